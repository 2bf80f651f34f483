// Package cloud relays commands and print jobs to printers that are only
// reachable through the account's NATS relay.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"printlink-backend/internal/logger"
)

var ErrClosed = errors.New("cloud session closed")

// Options configure a Session.
type Options struct {
	URL           string
	SubjectPrefix string
	Bucket        string
	CredsFile     string
	Name          string
	Timeout       time.Duration
	Logger        logger.Logger
}

// Session is one authenticated relay connection.
type Session struct {
	nc      *nats.Conn
	objects jetstream.ObjectStore
	prefix  string
	bucket  string
	log     logger.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// CommandSubject is where commands for serial are published.
func CommandSubject(prefix, serial string) string {
	return fmt.Sprintf("%s.printers.%s.commands", prefix, serial)
}

// EventSubject is where serial publishes its messages.
func EventSubject(prefix, serial string) string {
	return fmt.Sprintf("%s.printers.%s.events", prefix, serial)
}

// DevicesSubject answers with the account's device list.
func DevicesSubject(prefix string) string {
	return prefix + ".account.devices"
}

// Connect dials NATS and opens the print job bucket.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "printlink"
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	log := opts.Logger.WithComponent("cloud")

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if opts.CredsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(opts.CredsFile))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	objects, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      opts.Bucket,
		Description: "print jobs awaiting pickup by remote printers",
		TTL:         24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open object store %s: %w", opts.Bucket, err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("bucket", opts.Bucket).Msg("connected to cloud relay")

	return &Session{
		nc:      nc,
		objects: objects,
		prefix:  opts.SubjectPrefix,
		bucket:  opts.Bucket,
		log:     log,
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

// DevicesOfUser returns the account device list keyed by serial.
func (s *Session) DevicesOfUser(ctx context.Context) (map[string]json.RawMessage, error) {
	msg, err := s.nc.RequestWithContext(ctx, DevicesSubject(s.prefix), nil)
	if err != nil {
		return nil, fmt.Errorf("device list request: %w", err)
	}
	var devices map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &devices); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	return devices, nil
}

// Subscribe routes serial's inbound messages to handler, replacing any
// earlier subscription for it.
func (s *Session) Subscribe(serial string, handler func([]byte)) error {
	sub, err := s.nc.Subscribe(EventSubject(s.prefix, serial), func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", serial, err)
	}

	s.mu.Lock()
	old := s.subs[serial]
	s.subs[serial] = sub
	s.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	return nil
}

// Unsubscribe stops routing serial's messages.
func (s *Session) Unsubscribe(serial string) {
	s.mu.Lock()
	sub := s.subs[serial]
	delete(s.subs, serial)
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Send publishes a command payload for serial.
func (s *Session) Send(_ context.Context, serial string, payload []byte) error {
	if s.nc.IsClosed() {
		return ErrClosed
	}
	return s.nc.Publish(CommandSubject(s.prefix, serial), payload)
}

// SendPrintJob stores the file in the object bucket and tells the printer
// where to fetch it.
func (s *Session) SendPrintJob(ctx context.Context, serial, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := ObjectName(serial, path, uuid.New())
	info, err := s.objects.Put(ctx, jetstream.ObjectMeta{Name: name}, f)
	if err != nil {
		return fmt.Errorf("store print job: %w", err)
	}

	payload, err := PrintJobCommand(s.bucket, name, filepath.Base(path), info.Size)
	if err != nil {
		return err
	}
	s.log.Info().Str("serial", serial).Str("object", name).Uint64("size", info.Size).Msg("print job relayed")
	return s.Send(ctx, serial, payload)
}

// ObjectName is the bucket key for a print job.
func ObjectName(serial, path string, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s%s", serial, id, filepath.Ext(path))
}

// PrintJobCommand is the frame announcing a stored print job.
func PrintJobCommand(bucket, object, filename string, size uint64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"request":  "print_job",
		"bucket":   bucket,
		"object":   object,
		"filename": filename,
		"size":     size,
	})
}

// Close drains subscriptions and the connection.
func (s *Session) Close() {
	s.mu.Lock()
	s.subs = make(map[string]*nats.Subscription)
	s.mu.Unlock()
	if err := s.nc.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("NATS drain failed")
		s.nc.Close()
	}
}
