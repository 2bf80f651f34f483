package registry

import (
	"fmt"
	"sort"
	"strings"

	"printlink-backend/internal/device"
	"printlink-backend/internal/transport"
)

// Filter narrows a device listing.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterAvailable Filter = "available"
	FilterBusy      Filter = "busy"
)

// ParseFilter accepts "", all, available and busy.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterAvailable, FilterBusy:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// DeviceView is what callers see of one device.
type DeviceView struct {
	device.Snapshot
	Serial          string           `json:"serial"`
	Online          bool             `json:"online"`
	Busy            bool             `json:"busy"`
	IP              string           `json:"ip,omitempty"`
	Transport       transport.Kind   `json:"transport"`
	Transports      []transport.Kind `json:"transports"`
	LatestFirmware  string           `json:"latest_firmware,omitempty"`
	UpdateAvailable bool             `json:"update_available"`
}

func (r *Registry) viewOf(e *entry) DeviceView {
	snap := e.active.Machine().View()
	v := DeviceView{
		Snapshot:  snap,
		Serial:    e.serial,
		Online:    e.online,
		Busy:      snap.State.IsBusy(),
		IP:        e.at.ip,
		Transport: e.active.Kind(),
	}
	if e.local != nil {
		v.Transports = append(v.Transports, transport.KindLocal)
	}
	if e.remote != nil {
		v.Transports = append(v.Transports, transport.KindRemote)
	}
	if r.deps.Firmware != nil {
		if latest, ok := r.deps.Firmware.Latest(snap.Attributes.Model); ok {
			v.LatestFirmware = latest.String()
			v.UpdateAvailable = r.deps.Firmware.UpdateAvailable(snap.Attributes.Model, snap.Attributes.Version)
		}
	}
	return v
}

func (v DeviceView) matches(filter Filter, search string) bool {
	switch filter {
	case FilterAvailable:
		if !v.Online || v.Busy {
			return false
		}
	case FilterBusy:
		if !v.Online || !v.Busy {
			return false
		}
	}
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(v.Attributes.Name), search) ||
		strings.Contains(strings.ToLower(v.Serial), search) ||
		strings.Contains(v.IP, search)
}

// List returns the devices matching filter and a case-insensitive search on
// name, serial or IP, ordered by name then serial.
func (r *Registry) List(filter Filter, search string) []DeviceView {
	search = strings.TrimSpace(search)

	r.mu.RLock()
	views := make([]DeviceView, 0, len(r.devices))
	for _, e := range r.devices {
		if e.active == nil {
			continue
		}
		if v := r.viewOf(e); v.matches(filter, search) {
			views = append(views, v)
		}
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		a, b := strings.ToLower(views[i].Attributes.Name), strings.ToLower(views[j].Attributes.Name)
		if a != b {
			return a < b
		}
		return views[i].Serial < views[j].Serial
	})
	return views
}

// Get returns one device.
func (r *Registry) Get(serial string) (DeviceView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[serial]
	if !ok || e.active == nil {
		return DeviceView{}, ErrUnknownDevice
	}
	return r.viewOf(e), nil
}

// Avatar returns the latest snapshot image of a device.
func (r *Registry) Avatar(serial string) ([]byte, error) {
	r.mu.RLock()
	e, ok := r.devices[serial]
	var conns []transport.Connection
	if ok {
		conns = []transport.Connection{e.active}
		if e.local != nil && e.local != e.active {
			conns = append(conns, e.local)
		}
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownDevice
	}
	for _, c := range conns {
		if c == nil {
			continue
		}
		if png := c.Avatar(); len(png) > 0 {
			return png, nil
		}
	}
	return nil, ErrNoAvatar
}

// connection returns the active connection of an online device.
func (r *Registry) connection(serial string) (transport.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[serial]
	if !ok || e.active == nil {
		return nil, ErrUnknownDevice
	}
	if !e.online || !e.active.IsAlive() {
		return nil, ErrDeviceOffline
	}
	return e.active, nil
}
