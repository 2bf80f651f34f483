// Package transport connects to printers, either directly over the LAN or
// through the cloud relay.
package transport

//go:generate mockgen -destination=mock_relay.go -package=transport printlink-backend/internal/transport Relay

import (
	"context"
	"errors"

	"printlink-backend/internal/device"
)

// Kind identifies how a device is reached.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

var (
	ErrNotConnected      = errors.New("connection is not established")
	ErrAvatarUnavailable = errors.New("snapshot not supported over this connection")
)

// Connection is one live link to a printer. Every implementation owns a
// device.Machine mirroring the printer.
type Connection interface {
	Connect(ctx context.Context) error
	Send(cmd device.Command, extra map[string]any) error
	IsAlive() bool
	Upload(ctx context.Context, localPath, remoteName string) error
	DownloadAvatar(ctx context.Context) error
	Avatar() []byte
	Events() <-chan device.Event
	Machine() *device.Machine
	Kind() Kind
	Close()
}

// Relay forwards traffic for remote printers.
type Relay interface {
	Send(ctx context.Context, serial string, payload []byte) error
	SendPrintJob(ctx context.Context, serial, path string) error
}
