package device

import (
	"strings"
	"sync"
	"time"

	"printlink-backend/internal/logger"
)

// Options tune a Machine.
type Options struct {
	// LegacyFilamentPresent is used when firmware predates filament reporting.
	LegacyFilamentPresent bool
	EventBuffer           int
	Now                   func() time.Time
	Logger                logger.Logger
}

// Snapshot is a consistent copy of everything a Machine knows.
type Snapshot struct {
	Attributes  Attributes     `json:"attributes"`
	State       State          `json:"state"`
	Progress    float64        `json:"progress"`
	Upload      UploadProgress `json:"upload"`
	Initialized bool           `json:"initialized"`
}

// Machine turns inbound device messages into attribute and state changes and
// emits events on its channel. The owning connection is the only writer.
type Machine struct {
	mu            sync.RWMutex
	attrs         Attributes
	state         State
	progress      float64
	upload        UploadProgress
	helloReceived bool
	avatar        []byte

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	legacyFilament bool
	now            func() time.Time
	log            logger.Logger
}

// NewMachine creates a Machine with an empty view.
func NewMachine(opts Options) *Machine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	return &Machine{
		attrs:          Attributes{Name: "Unknown", Version: DefaultVersion},
		events:         make(chan Event, opts.EventBuffer),
		done:           make(chan struct{}),
		legacyFilament: opts.LegacyFilamentPresent,
		now:            opts.Now,
		log:            opts.Logger,
	}
}

// Events is the channel the owner drains.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// Stop ends event delivery. Pending emits return immediately.
func (m *Machine) Stop() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Done is closed by Stop.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Stopped reports whether Stop was called.
func (m *Machine) Stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Emit delivers an event unless the machine was stopped.
func (m *Machine) Emit(t EventType, name string) {
	m.mu.RLock()
	ev := m.eventLocked(t, name)
	m.mu.RUnlock()
	m.deliver(ev)
}

// eventLocked stamps an event with the current state; callers hold the lock.
func (m *Machine) eventLocked(t EventType, name string) Event {
	return Event{Type: t, Name: name, Serial: m.attrs.Serial, State: m.state, At: m.now()}
}

func (m *Machine) deliver(ev Event) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// View returns a consistent copy of the mirrored device.
func (m *Machine) View() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Attributes:  m.attrs,
		State:       m.state,
		Progress:    m.progress,
		Upload:      m.upload,
		Initialized: m.helloReceived,
	}
}

// HelloReceived reports whether a full hello has been processed.
func (m *Machine) HelloReceived() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.helloReceived
}

// Seed fills identity fields from an out-of-band listing, before any hello.
func (m *Machine) Seed(serial, name, model, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs.Serial = serial
	if name != "" {
		m.attrs.Name = name
	}
	if model != "" {
		m.attrs.Model = strings.ToLower(model)
	}
	if version != "" {
		m.attrs.Version = version
	}
	m.attrs.Capabilities = CapabilitiesFor(m.attrs.Model, m.attrs.Version)
}

// SetUploading flips the local uploading flag.
func (m *Machine) SetUploading(on bool) {
	m.mu.Lock()
	m.state.Uploading = on
	if on {
		m.upload = UploadProgress{}
	}
	m.mu.Unlock()
}

// SetUploadProgress records transfer progress and notifies the owner.
func (m *Machine) SetUploadProgress(p UploadProgress) {
	m.mu.Lock()
	m.upload = p
	m.mu.Unlock()
	m.Emit(EventUpdate, "upload_progress")
}

// SetAvatar stores the latest snapshot image.
func (m *Machine) SetAvatar(png []byte) {
	m.mu.Lock()
	m.avatar = png
	m.mu.Unlock()
}

// Avatar returns the latest snapshot image, if any.
func (m *Machine) Avatar() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avatar
}

// HandleMessage applies one inbound message. Undecodable messages are logged
// and dropped without touching state.
func (m *Machine) HandleMessage(raw []byte) {
	f, event, err := decodeFields(raw)
	if err != nil {
		m.mu.RLock()
		name, serial := m.attrs.Name, m.attrs.Serial
		m.mu.RUnlock()
		m.log.Warn().Err(err).
			Str("name", name).
			Str("serial", serial).
			Str("content", string(raw)).
			Msg("dropping undecodable device message")
		return
	}

	switch event {
	case "ping", "temperature_change":
		return
	}

	m.mu.Lock()
	m.apply(event, f)
	var ev Event
	if event == "hello" {
		ev = m.eventLocked(EventOpen, "")
	} else {
		ev = m.eventLocked(EventUpdate, event)
	}
	m.mu.Unlock()
	m.deliver(ev)
}

// apply mutates the view; callers hold the write lock.
func (m *Machine) apply(event string, f fields) {
	now := m.now()

	if event == "hello" {
		m.attrs = m.parseHello(f, now)
	}

	if event == "hello" || event == "states_update" {
		uploading := m.state.Uploading
		m.state = State{
			Calibrating:      f.flag("is_calibrating"),
			BedOccupied:      f.flag("is_bed_occupied"),
			BedDirty:         f.flag("is_bed_dirty"),
			USBPresent:       f.flag("is_usb_present"),
			Preheating:       f.flag("is_preheat"),
			Printing:         f.flag("is_printing"),
			Heating:          f.flag("is_heating"),
			Paused:           f.flag("is_paused"),
			HasError:         f.flag("is_error"),
			LedsOn:           f.flag("is_leds"),
			UpdatingFirmware: f.flag("is_downloading"),
			Uploading:        uploading,
		}
		if m.attrs.Capabilities.FilamentPresentInfo {
			m.state.FilamentPresent = f.flag("is_filament_present")
		} else {
			m.state.FilamentPresent = m.legacyFilament
		}
	}

	switch event {
	case "hello":
		m.helloReceived = true
	case "print_progress", "temperature_progress", "calibration_progress":
		m.progress = f.num("progress", 0)
		m.state.Uploading = false
	case "upload_progress":
		m.progress = f.num("progress", 0)
		m.state.Uploading = true
	case "upload_done":
		m.state.Uploading = false
	case "new_name":
		m.attrs.Name = f.str("name", "Zaxe")
	case "material_change":
		m.attrs.Material = strings.ToLower(f.str("material", "zaxe_abs"))
		m.attrs.MaterialLabel = f.str("material_label", MaterialLabel(m.attrs.Material))
	case "nozzle_change":
		m.attrs.Nozzle = f.str("nozzle", "0.4")
	case "pin_change":
		m.attrs.HasPin = strings.EqualFold(f.str("has_pin", "false"), "true")
	case "start_print":
		m.attrs.PrintingFile = f.str("filename", "")
		m.attrs.ElapsedSeconds = f.num("elapsed_time", 0)
		m.attrs.StartTime = now.Add(-time.Duration(m.attrs.ElapsedSeconds * float64(time.Second)))
		m.attrs.EstimatedTime = f.str("estimated_time", "")
	case "spool_data_change":
		m.attrs.HasNFCSpool = strings.EqualFold(f.str("has_nfc_spool", "false"), "true")
		m.attrs.FilamentColor = strings.ToLower(f.str("filament_color", "unknown"))
	case "temperature_update":
		m.attrs.NozzleTemp = f.num("ext_temp", 0)
		m.attrs.NozzleTempTarget = f.num("ext_temp_set", 0)
		m.attrs.BedTemp = f.num("bed_temp", 0)
		m.attrs.BedTempTarget = f.num("bed_temp_set", 0)
	}
}

func (m *Machine) parseHello(f fields, now time.Time) Attributes {
	a := Attributes{
		Name:          f.str("name", "Unknown"),
		Serial:        f.str("serial_no", "Unknown"),
		Model:         strings.ToLower(f.str("device_model", "x1")),
		Material:      strings.ToLower(f.str("material", "zaxe_abs")),
		Nozzle:        f.str("nozzle", "0.4"),
		IsHTTP:        f.str("protocol", "") == "http",
		PrintingFile:  f.str("filename", ""),
		EstimatedTime: f.str("estimated_time", ""),
		Version:       strings.ToLower(f.str("version", DefaultVersion)),
	}
	a.MaterialLabel = f.str("material_label", MaterialLabel(a.Material))
	a.ElapsedSeconds = f.num("elapsed_time", 0)
	a.StartTime = now.Add(-time.Duration(a.ElapsedSeconds * float64(time.Second)))
	a.Capabilities = CapabilitiesFor(a.Model, a.Version)

	if !a.Capabilities.Lite {
		a.HasPin = f.flag("has_pin")
		a.HasNFCSpool = f.flag("has_nfc_spool")
		a.FilamentColor = strings.ToLower(f.str("filament_color", "unknown"))
		a.FilamentRemaining = f.num("filament_remaining", 0)
	}
	if f.has("ext_temp") {
		a.NozzleTemp = f.num("ext_temp", 0)
		a.NozzleTempTarget = f.num("ext_temp_set", 0)
		a.BedTemp = f.num("bed_temp", 0)
		a.BedTempTarget = f.num("bed_temp_set", 0)
	}
	return a
}
