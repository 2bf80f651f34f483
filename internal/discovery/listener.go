// Package discovery listens for printer broadcast announcements.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"printlink-backend/internal/logger"
)

// Announcement is one decoded broadcast datagram.
type Announcement struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	ID   string `json:"id"`
}

// Address is the websocket host:port of the announcing device.
func (a Announcement) Address() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

var ErrMalformed = errors.New("malformed announcement")

// Decode parses a datagram. The port may arrive as a number or a string.
func Decode(b []byte) (Announcement, error) {
	var raw struct {
		IP   string          `json:"ip"`
		Port json.RawMessage `json:"port"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if net.ParseIP(strings.TrimSpace(raw.IP)) == nil {
		return Announcement{}, fmt.Errorf("%w: bad ip %q", ErrMalformed, raw.IP)
	}
	port, err := strconv.Atoi(strings.Trim(string(raw.Port), `" `))
	if err != nil || port <= 0 || port > 65535 {
		return Announcement{}, fmt.Errorf("%w: bad port %s", ErrMalformed, raw.Port)
	}
	return Announcement{
		IP:   strings.TrimSpace(raw.IP),
		Port: port,
		ID:   strings.Trim(string(raw.ID), `"`),
	}, nil
}

// Listener receives announcements on a UDP port and forwards every decoded
// one, duplicates included.
type Listener struct {
	addr       string
	bufferSize int
	out        chan Announcement
	log        logger.Logger
}

// NewListener creates a listener bound to addr (":9295") once Run is called.
func NewListener(addr string, bufferSize int, log logger.Logger) *Listener {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Listener{
		addr:       addr,
		bufferSize: bufferSize,
		out:        make(chan Announcement, 16),
		log:        log.WithComponent("discovery"),
	}
}

// Announcements is closed when Run returns.
func (l *Listener) Announcements() <-chan Announcement {
	return l.out
}

// Run binds the socket and receives until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", l.addr)
	if err != nil {
		close(l.out)
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	l.log.Info().Str("addr", conn.LocalAddr().String()).Msg("listening for printer broadcasts")
	return l.serve(ctx, conn)
}

func (l *Listener) serve(ctx context.Context, conn net.PacketConn) error {
	defer close(l.out)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, l.bufferSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info().Msg("discovery listener shutting down")
				return nil
			}
			return fmt.Errorf("read broadcast: %w", err)
		}

		a, err := Decode(buf[:n])
		if err != nil {
			l.log.Warn().Err(err).Str("from", from.String()).Msg("dropping broadcast")
			continue
		}

		select {
		case l.out <- a:
		case <-ctx.Done():
			return nil
		}
	}
}
