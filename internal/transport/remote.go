package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"printlink-backend/internal/device"
	"printlink-backend/internal/logger"
)

// Liveness is the remote connection status as seen by the liveness loop.
type Liveness int

const (
	LivenessUnknown Liveness = iota
	LivenessOffline
	LivenessOnline
)

func (l Liveness) String() string {
	switch l {
	case LivenessOffline:
		return "offline"
	case LivenessOnline:
		return "online"
	default:
		return "unknown"
	}
}

// RemoteOptions configure a relayed connection.
type RemoteOptions struct {
	Serial       string
	Relay        Relay
	Clock        Clock
	Interval     time.Duration
	AliveTimeout time.Duration
	Machine      device.Options
	Logger       logger.Logger
}

// Remote reaches a printer through the cloud relay. Inbound messages arrive via
// Deliver; liveness is inferred from message recency.
type Remote struct {
	opts    RemoteOptions
	machine *device.Machine
	log     logger.Logger

	mu          sync.Mutex
	lastMessage time.Time
	status      Liveness

	stopOnce sync.Once
	stop     chan struct{}
}

// remoteListing is one entry of the account device list.
type remoteListing struct {
	Serial  string `json:"serial"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

// NewRemote creates a relayed connection for serial.
func NewRemote(opts RemoteOptions) *Remote {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.AliveTimeout <= 0 {
		opts.AliveTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	log := opts.Logger.WithComponent("remote").With().Str("serial", opts.Serial).Logger()
	opts.Machine.Logger = logger.Wrap(log)
	if opts.Machine.Now == nil {
		opts.Machine.Now = opts.Clock.Now
	}

	r := &Remote{
		opts:    opts,
		machine: device.NewMachine(opts.Machine),
		log:     logger.Wrap(log),
		stop:    make(chan struct{}),
	}
	r.machine.Seed(opts.Serial, "", "", "")
	return r
}

func (r *Remote) Kind() Kind                  { return KindRemote }
func (r *Remote) Machine() *device.Machine    { return r.machine }
func (r *Remote) Events() <-chan device.Event { return r.machine.Events() }
func (r *Remote) Avatar() []byte              { return r.machine.Avatar() }

// Serial is the relay routing key.
func (r *Remote) Serial() string { return r.opts.Serial }

// Init seeds identity from an account device listing entry.
func (r *Remote) Init(raw []byte) error {
	var l remoteListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return fmt.Errorf("decode device listing: %w", err)
	}
	r.machine.Seed(r.opts.Serial, l.Name, l.Model, l.Version)
	return nil
}

// Connect starts the liveness loop.
func (r *Remote) Connect(ctx context.Context) error {
	go r.run(ctx)
	return nil
}

func (r *Remote) run(ctx context.Context) {
	ticker := r.opts.Clock.Ticker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.Chan():
			r.Tick(ctx)
		}
	}
}

// Tick runs one liveness evaluation.
func (r *Remote) Tick(ctx context.Context) {
	hello := r.machine.HelloReceived()
	if !hello {
		r.sendHello(ctx)
	}

	r.mu.Lock()
	alive := hello && r.opts.Clock.Now().Sub(r.lastMessage) < r.opts.AliveTimeout
	prev := r.status
	switch {
	case prev == LivenessUnknown:
		r.status = LivenessOffline
	case prev == LivenessOnline && !alive:
		r.status = LivenessOffline
	case prev == LivenessOffline && alive:
		r.status = LivenessOnline
	}
	next := r.status
	r.mu.Unlock()

	if prev == next {
		return
	}
	r.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("liveness changed")

	switch {
	case prev == LivenessOnline:
		r.machine.Emit(device.EventClose, "")
	case next == LivenessOnline:
		r.sendHello(ctx)
		r.machine.Emit(device.EventUpdate, "hello")
	}
}

func (r *Remote) sendHello(ctx context.Context) {
	if err := r.send(ctx, device.CmdSendHello, nil); err != nil {
		r.log.Debug().Err(err).Msg("send_hello failed")
	}
}

// Status is the current liveness state.
func (r *Remote) Status() Liveness {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Deliver feeds one inbound message from the relay.
func (r *Remote) Deliver(payload []byte) {
	r.mu.Lock()
	r.lastMessage = r.opts.Clock.Now()
	r.mu.Unlock()
	r.machine.HandleMessage(payload)
}

// IsAlive reports whether a hello arrived and the device spoke recently.
func (r *Remote) IsAlive() bool {
	if !r.machine.HelloReceived() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Clock.Now().Sub(r.lastMessage) < r.opts.AliveTimeout
}

// Send relays a command.
func (r *Remote) Send(cmd device.Command, extra map[string]any) error {
	return r.send(context.Background(), cmd, extra)
}

func (r *Remote) send(ctx context.Context, cmd device.Command, extra map[string]any) error {
	payload, err := device.EncodeCommand(cmd, extra)
	if err != nil {
		return err
	}
	return r.opts.Relay.Send(ctx, r.opts.Serial, payload)
}

// Upload hands the file to the relay as a print job.
func (r *Remote) Upload(ctx context.Context, localPath, _ string) error {
	r.machine.SetUploading(true)
	r.machine.Emit(device.EventUpdate, "upload_start")

	if err := r.opts.Relay.SendPrintJob(ctx, r.opts.Serial, localPath); err != nil {
		r.log.Error().Err(err).Str("file", localPath).Msg("print job relay failed")
		r.machine.SetUploading(false)
		r.machine.Emit(device.EventUpdate, "upload_failed")
		return err
	}
	return nil
}

// DownloadAvatar is not available through the relay.
func (r *Remote) DownloadAvatar(context.Context) error {
	return ErrAvatarUnavailable
}

// Close stops the liveness loop and event delivery.
func (r *Remote) Close() {
	r.stopOnce.Do(func() {
		r.machine.Stop()
		close(r.stop)
	})
}
