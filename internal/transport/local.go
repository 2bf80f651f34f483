package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"printlink-backend/internal/device"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/transfer"
)

// AvatarSource downloads a device snapshot.
type AvatarSource interface {
	Fetch(ctx context.Context, host string) ([]byte, error)
}

// LocalOptions configure a LAN connection.
type LocalOptions struct {
	IP               string
	Port             int
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	Machine          device.Options
	HTTPUploader     transfer.Uploader
	FTPUploader      transfer.Uploader
	UploadPolicy     transfer.Policy
	Snapshots        AvatarSource
	Logger           logger.Logger
}

// Local talks to a printer over its websocket endpoint.
type Local struct {
	opts    LocalOptions
	machine *device.Machine
	log     logger.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu  sync.Mutex
	avatarMu sync.Mutex

	connected atomic.Bool
	closed    atomic.Bool
}

// NewLocal creates an unconnected LAN connection.
func NewLocal(opts LocalOptions) *Local {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	log := opts.Logger.WithComponent("local").With().Str("ip", opts.IP).Logger()
	opts.Machine.Logger = logger.Wrap(log)
	return &Local{
		opts:    opts,
		machine: device.NewMachine(opts.Machine),
		log:     logger.Wrap(log),
	}
}

// IP is the device address.
func (l *Local) IP() string { return l.opts.IP }

// URL is the websocket endpoint.
func (l *Local) URL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(l.opts.IP, strconv.Itoa(l.opts.Port)), Path: "/"}
	return u.String()
}

func (l *Local) Kind() Kind                  { return KindLocal }
func (l *Local) Machine() *device.Machine    { return l.machine }
func (l *Local) Events() <-chan device.Event { return l.machine.Events() }
func (l *Local) Avatar() []byte              { return l.machine.Avatar() }

// IsAlive reports whether the socket is open.
func (l *Local) IsAlive() bool {
	return l.connected.Load() && !l.closed.Load()
}

// Connect dials the device and starts the read loop. A failed dial produces a
// close event.
func (l *Local) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: l.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.URL(), nil)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to connect to device")
		l.machine.Emit(device.EventClose, "")
		return fmt.Errorf("dial %s: %w", l.URL(), err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.connected.Store(true)

	if l.closed.Load() {
		conn.Close()
		return nil
	}

	go l.readLoop(conn)
	return nil
}

func (l *Local) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(l.opts.IdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			l.connected.Store(false)
			if !l.closed.Load() {
				l.log.Info().Err(err).Msg("device connection lost")
				l.machine.Emit(device.EventClose, "")
			}
			return
		}
		l.machine.HandleMessage(msg)
	}
}

// Send writes one command frame.
func (l *Local) Send(cmd device.Command, extra map[string]any) error {
	payload, err := device.EncodeCommand(cmd, extra)
	if err != nil {
		return err
	}

	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil || !l.IsAlive() {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Upload picks the HTTP form protocol when the device announced it, FTP
// otherwise. FTP uses TLS unless the model lacks it.
func (l *Local) Upload(ctx context.Context, localPath, remoteName string) error {
	view := l.machine.View()
	uploader := l.opts.FTPUploader
	if view.Attributes.IsHTTP {
		uploader = l.opts.HTTPUploader
	}
	if uploader == nil {
		return fmt.Errorf("no uploader configured for %s", l.opts.IP)
	}

	l.machine.SetUploading(true)
	l.machine.Emit(device.EventUpdate, "upload_start")

	job := transfer.Job{
		Host:       l.opts.IP,
		LocalPath:  localPath,
		RemoteName: remoteName,
		TLS:        !view.Attributes.Capabilities.NoTLS,
		Progress:   l.machine.SetUploadProgress,
	}
	_, err := transfer.Retry(ctx, transfer.OpUpload, l.opts.UploadPolicy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, uploader.Upload(ctx, job)
	}, l.log)

	l.machine.SetUploading(false)
	if err != nil {
		l.log.Error().Err(err).Str("file", localPath).Msg("upload failed")
		l.machine.Emit(device.EventUpdate, "upload_failed")
		return err
	}
	l.machine.Emit(device.EventUpdate, "upload_done")
	return nil
}

// DownloadAvatar fetches the snapshot. A download already in flight makes
// this a no-op.
func (l *Local) DownloadAvatar(ctx context.Context) error {
	if l.opts.Snapshots == nil {
		return ErrAvatarUnavailable
	}
	if !l.avatarMu.TryLock() {
		return nil
	}
	defer l.avatarMu.Unlock()

	png, err := l.opts.Snapshots.Fetch(ctx, l.opts.IP)
	if err != nil {
		return err
	}
	l.machine.SetAvatar(png)
	l.machine.Emit(device.EventAvatarReady, "")
	return nil
}

// Close tears the socket down without emitting a close event.
func (l *Local) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.machine.Stop()
	l.connected.Store(false)

	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn != nil {
		l.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		conn.Close()
	}
}
