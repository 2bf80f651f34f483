// Package registry owns the set of known printers. It creates connections
// from discovery and the cloud relay, tracks which one is active per serial,
// and fans device events out to the rest of the service.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"printlink-backend/internal/device"
	"printlink-backend/internal/discovery"
	"printlink-backend/internal/firmware"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/model"
	"printlink-backend/internal/notification"
	"printlink-backend/internal/store"
	"printlink-backend/internal/transport"
)

// DefaultDevicePort is the websocket port printers listen on.
const DefaultDevicePort = 9294

const unknownSerial = "Unknown"

var (
	ErrUnknownDevice        = errors.New("unknown device")
	ErrDeviceOffline        = errors.New("device is offline")
	ErrUnsupportedCommand   = errors.New("command not supported by this device")
	ErrNoAlternateTransport = errors.New("no other transport available")
	ErrInvalidAddress       = errors.New("invalid device address")
	ErrCloudDisabled        = errors.New("cloud relay is not configured")
	ErrNoAvatar             = errors.New("no snapshot available")
)

// RemoteConnection is a relayed connection fed by the cloud session.
type RemoteConnection interface {
	transport.Connection
	Init(raw []byte) error
	Deliver(payload []byte)
}

// Factory builds connections. Remote may be nil when no relay is configured.
type Factory struct {
	Local  func(ip string, port int) transport.Connection
	Remote func(serial string) RemoteConnection
}

// Cloud lists account devices and routes their inbound traffic.
type Cloud interface {
	DevicesOfUser(ctx context.Context) (map[string]json.RawMessage, error)
	Subscribe(serial string, handler func([]byte)) error
}

// Notifier sends push notifications about a device. Dispatch is called from
// the event loop and must not block.
type Notifier interface {
	Dispatch(ctx context.Context, job notification.Job)
}

// Deps are the collaborators a Registry needs. Firmware, Notifier and Cloud
// are optional.
type Deps struct {
	Factory  Factory
	Store    store.Store
	Firmware *firmware.Cache
	Notifier Notifier
	Cloud    Cloud
	Logger   logger.Logger
}

// Options tune a Registry.
type Options struct {
	UploadDir       string
	PersistInterval time.Duration
	AvatarTimeout   time.Duration
	Now             func() time.Time
}

type endpoint struct {
	ip   string
	port int
}

type envelope struct {
	conn transport.Connection
	at   endpoint
	ev   device.Event
}

type entry struct {
	serial      string
	local       transport.Connection
	remote      RemoteConnection
	active      transport.Connection
	at          endpoint
	online      bool
	lastState   device.State
	persistedAt time.Time
}

// Registry tracks printers by serial.
type Registry struct {
	deps Deps
	opts Options
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	devices map[string]*entry
	byIP    map[string]transport.Connection

	events chan envelope

	subMu sync.Mutex
	subs  map[chan device.Event]struct{}
}

// New creates a Registry. Call Run to start processing events.
func New(deps Deps, opts Options) *Registry {
	if deps.Logger == nil {
		deps.Logger = logger.NewTestLogger()
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = 30 * time.Second
	}
	if opts.AvatarTimeout <= 0 {
		opts.AvatarTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:    deps,
		opts:    opts,
		log:     deps.Logger.WithComponent("registry"),
		ctx:     ctx,
		cancel:  cancel,
		devices: make(map[string]*entry),
		byIP:    make(map[string]transport.Connection),
		events:  make(chan envelope, 256),
		subs:    make(map[chan device.Event]struct{}),
	}
}

// HandleAnnouncement connects to an announced printer unless a connection to
// that IP already exists. It reports whether a connection was started.
func (r *Registry) HandleAnnouncement(a discovery.Announcement) bool {
	return r.connectLocal(endpoint{ip: a.IP, port: a.Port})
}

// AddManual connects to a printer by address, as if it had announced itself.
func (r *Registry) AddManual(ip string, port int) (bool, error) {
	if net.ParseIP(ip) == nil {
		return false, ErrInvalidAddress
	}
	if port <= 0 {
		port = DefaultDevicePort
	}
	return r.connectLocal(endpoint{ip: ip, port: port}), nil
}

func (r *Registry) connectLocal(at endpoint) bool {
	if r.ctx.Err() != nil {
		return false
	}

	r.mu.Lock()
	if _, ok := r.byIP[at.ip]; ok {
		r.mu.Unlock()
		return false
	}
	conn := r.deps.Factory.Local(at.ip, at.port)
	r.byIP[at.ip] = conn
	r.mu.Unlock()

	r.log.Info().Str("ip", at.ip).Int("port", at.port).Msg("connecting to device")
	go r.forward(conn, at)
	go func() {
		if err := conn.Connect(r.ctx); err != nil {
			r.log.Debug().Err(err).Str("ip", at.ip).Msg("connect failed")
		}
	}()
	return true
}

// AttachRemote registers a relayed connection for serial, seeded with the
// account listing entry. An existing remote is re-seeded instead.
func (r *Registry) AttachRemote(serial string, info json.RawMessage) error {
	if r.deps.Cloud == nil || r.deps.Factory.Remote == nil {
		return ErrCloudDisabled
	}
	if serial == "" || serial == unknownSerial {
		return ErrUnknownDevice
	}

	r.mu.Lock()
	e := r.devices[serial]
	if e != nil && e.remote != nil {
		remote := e.remote
		r.mu.Unlock()
		return remote.Init(info)
	}
	remote := r.deps.Factory.Remote(serial)
	if err := remote.Init(info); err != nil {
		r.mu.Unlock()
		return err
	}
	if e == nil {
		e = &entry{serial: serial}
		r.devices[serial] = e
	}
	e.remote = remote
	if e.active == nil {
		e.active = remote
	}
	r.mu.Unlock()

	go r.forward(remote, endpoint{})
	if err := remote.Connect(r.ctx); err != nil {
		return err
	}
	return r.deps.Cloud.Subscribe(serial, remote.Deliver)
}

// SyncCloud attaches every device on the account.
func (r *Registry) SyncCloud(ctx context.Context) error {
	if r.deps.Cloud == nil {
		return ErrCloudDisabled
	}
	devices, err := r.deps.Cloud.DevicesOfUser(ctx)
	if err != nil {
		return err
	}
	for serial, info := range devices {
		if err := r.AttachRemote(serial, info); err != nil {
			r.log.Warn().Err(err).Str("serial", serial).Msg("failed to attach remote device")
		}
	}
	r.log.Info().Int("count", len(devices)).Msg("cloud devices synced")
	return nil
}

func (r *Registry) forward(conn transport.Connection, at endpoint) {
	done := conn.Machine().Done()
	for {
		select {
		case ev := <-conn.Events():
			select {
			case r.events <- envelope{conn: conn, at: at, ev: ev}:
			case <-r.ctx.Done():
				return
			}
		case <-done:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// Run drains connection events until ctx ends, then closes every connection.
func (r *Registry) Run(ctx context.Context) error {
	r.log.Info().Msg("registry started")
	defer r.Close()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("registry shutting down")
			return nil
		case <-r.ctx.Done():
			return nil
		case env := <-r.events:
			r.handle(ctx, env)
		}
	}
}

// Close stops every connection.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	conns := make([]transport.Connection, 0, len(r.byIP)+len(r.devices))
	for _, c := range r.byIP {
		conns = append(conns, c)
	}
	for _, e := range r.devices {
		if e.local != nil {
			conns = append(conns, e.local)
		}
		if e.remote != nil {
			conns = append(conns, e.remote)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) handle(ctx context.Context, env envelope) {
	switch env.ev.Type {
	case device.EventOpen:
		r.handleOpen(ctx, env)
	case device.EventClose:
		r.handleClose(env)
	case device.EventUpdate:
		r.handleUpdate(ctx, env)
	}
	r.publish(env.ev)
}

func (r *Registry) handleOpen(ctx context.Context, env envelope) {
	view := env.conn.Machine().View()
	serial := view.Attributes.Serial
	if serial == "" || serial == unknownSerial {
		r.log.Warn().Str("ip", env.at.ip).Msg("ignoring device without serial")
		return
	}

	r.mu.Lock()
	e := r.devices[serial]
	if e == nil {
		e = &entry{serial: serial}
		r.devices[serial] = e
	}

	switch env.conn.Kind() {
	case transport.KindLocal:
		if e.local != nil && e.local != env.conn && e.local.IsAlive() {
			r.mu.Unlock()
			r.log.Warn().Str("serial", serial).Str("ip", env.at.ip).Msg("device already connected from another address")
			r.dropLocal(env.conn, env.at)
			return
		}
		e.local = env.conn
		e.at = env.at
	case transport.KindRemote:
		if rc, ok := env.conn.(RemoteConnection); ok {
			e.remote = rc
		}
	}

	if e.active == nil || e.active == env.conn || !e.active.IsAlive() {
		e.active = env.conn
	}
	active := e.active == env.conn
	if active {
		e.online = true
		e.lastState = env.ev.State
		e.persistedAt = r.opts.Now()
	}
	at := e.at
	r.mu.Unlock()

	if !active {
		return
	}
	r.log.Info().Str("serial", serial).Str("name", view.Attributes.Name).Str("transport", string(env.conn.Kind())).Msg("device online")
	r.persist(ctx, env.conn, view, at)
	r.refreshAvatar(env.conn, view)
}

func (r *Registry) handleClose(env envelope) {
	serial := env.conn.Machine().View().Attributes.Serial

	if env.conn.Kind() == transport.KindLocal {
		r.mu.Lock()
		if e := r.devices[serial]; e != nil && e.local == env.conn {
			e.local = nil
			if e.active == env.conn {
				if e.remote != nil {
					e.active = e.remote
					e.online = e.remote.IsAlive()
					r.log.Info().Str("serial", serial).Msg("local connection lost, switched to remote")
				} else {
					e.online = false
				}
			}
		}
		r.mu.Unlock()
		r.dropLocal(env.conn, env.at)
		r.log.Info().Str("serial", serial).Str("ip", env.at.ip).Msg("device disconnected")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.devices[serial]
	if e == nil || e.active != env.conn {
		return
	}
	if e.local != nil && e.local.IsAlive() {
		e.active = e.local
		return
	}
	e.online = false
	r.log.Info().Str("serial", serial).Msg("remote device went offline")
}

func (r *Registry) dropLocal(conn transport.Connection, at endpoint) {
	r.mu.Lock()
	if cur, ok := r.byIP[at.ip]; ok && cur == conn {
		delete(r.byIP, at.ip)
	}
	r.mu.Unlock()
	conn.Close()
}

func (r *Registry) handleUpdate(ctx context.Context, env envelope) {
	view := env.conn.Machine().View()
	serial := view.Attributes.Serial

	r.mu.Lock()
	e := r.devices[serial]
	if e == nil {
		r.mu.Unlock()
		return
	}
	if env.ev.Name == "hello" && env.conn.Kind() == transport.KindRemote {
		if e.active == env.conn || e.active == nil || !e.active.IsAlive() {
			e.active = env.conn
			e.online = true
		}
	}
	if e.active != env.conn {
		r.mu.Unlock()
		return
	}

	prev, cur := e.lastState, env.ev.State
	e.lastState = cur
	now := r.opts.Now()
	persistDue := now.Sub(e.persistedAt) >= r.opts.PersistInterval
	if persistDue {
		e.persistedAt = now
	}
	at := e.at
	r.mu.Unlock()

	switch {
	case prev.Printing && !cur.Printing && !cur.HasError:
		r.notify(ctx, view, "print finished")
	case !prev.HasError && cur.HasError:
		r.notify(ctx, view, "device reported an error")
	}
	if persistDue {
		r.persist(ctx, env.conn, view, at)
	}
	if env.ev.Name == "states_update" {
		r.refreshAvatar(env.conn, view)
	}
}

func (r *Registry) persist(ctx context.Context, conn transport.Connection, view device.Snapshot, at endpoint) {
	if r.deps.Store == nil {
		return
	}
	d := model.Device{
		Serial:     view.Attributes.Serial,
		Name:       view.Attributes.Name,
		Model:      view.Attributes.Model,
		IP:         at.ip,
		Port:       at.port,
		Transport:  string(conn.Kind()),
		Firmware:   view.Attributes.Version,
		LastSeenAt: r.opts.Now(),
	}
	if err := r.deps.Store.UpsertDevice(ctx, d); err != nil {
		r.log.Error().Err(err).Str("serial", d.Serial).Msg("failed to persist device")
	}
}

func (r *Registry) notify(ctx context.Context, view device.Snapshot, message string) {
	if r.deps.Notifier == nil {
		return
	}
	r.deps.Notifier.Dispatch(ctx, notification.Job{
		Serial:  view.Attributes.Serial,
		Name:    view.Attributes.Name,
		Message: message,
	})
}

func (r *Registry) refreshAvatar(conn transport.Connection, view device.Snapshot) {
	if conn.Kind() != transport.KindLocal || !view.Attributes.Capabilities.Snapshot {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.AvatarTimeout)
		defer cancel()
		if err := conn.DownloadAvatar(ctx); err != nil && !errors.Is(err, transport.ErrAvatarUnavailable) {
			r.log.Debug().Err(err).Str("serial", view.Attributes.Serial).Msg("avatar refresh failed")
		}
	}()
}

// Subscribe returns a stream of every device event. Slow subscribers miss
// events rather than stall the registry.
func (r *Registry) Subscribe() (<-chan device.Event, func()) {
	ch := make(chan device.Event, 32)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *Registry) publish(ev device.Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
