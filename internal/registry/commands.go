package registry

import (
	"fmt"

	"printlink-backend/internal/device"
	"printlink-backend/internal/transport"
)

func supported(cmd device.Command, caps device.Capabilities) bool {
	switch cmd {
	case device.CmdToggleLeds:
		return caps.ToggleLeds
	case device.CmdFirmwareUpdate:
		return caps.RemoteUpdate
	case device.CmdUnloadFilament:
		return caps.UnloadFilament
	case device.CmdStartStreaming, device.CmdStopStreaming:
		return caps.CameraStream
	default:
		return true
	}
}

// SendCommand sends cmd over the device's active connection.
func (r *Registry) SendCommand(serial string, cmd device.Command, extra map[string]any) error {
	conn, err := r.connection(serial)
	if err != nil {
		return err
	}
	caps := conn.Machine().View().Attributes.Capabilities
	if !supported(cmd, caps) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)
	}
	if err := conn.Send(cmd, extra); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	r.log.Info().Str("serial", serial).Str("command", string(cmd)).Str("transport", string(conn.Kind())).Msg("command sent")
	return nil
}

// SwitchTransport makes the other live connection of a device active.
func (r *Registry) SwitchTransport(serial string) (transport.Kind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[serial]
	if !ok || e.active == nil {
		return "", ErrUnknownDevice
	}

	var next transport.Connection
	switch e.active.Kind() {
	case transport.KindLocal:
		if e.remote != nil {
			next = e.remote
		}
	case transport.KindRemote:
		if e.local != nil {
			next = e.local
		}
	}
	if next == nil || !next.IsAlive() {
		return e.active.Kind(), ErrNoAlternateTransport
	}

	e.active = next
	e.online = true
	e.lastState = next.Machine().View().State
	r.log.Info().Str("serial", serial).Str("transport", string(next.Kind())).Msg("transport switched")
	return next.Kind(), nil
}
