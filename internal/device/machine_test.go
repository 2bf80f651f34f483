package device

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(Options{
		LegacyFilamentPresent: true,
		Now:                   func() time.Time { return fixedNow },
	})
}

func nextEvent(t *testing.T, m *Machine) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

const helloZ3 = `{"event":"hello","name":"Lab Z3","serial_no":"ZX123","device_model":"Z3",
"material":"ZAXE_PLA","nozzle":"0.6","protocol":"ftp","filename":"part.gcode","elapsed_time":"120",
"estimated_time":"1h","has_pin":"True","has_nfc_spool":"False","filament_color":"Red",
"filament_remaining":"42.5","version":"3.5.78","is_printing":"True","is_filament_present":"True","is_leds":"True"}`

func TestMachine_Hello(t *testing.T) {
	m := newTestMachine()
	m.HandleMessage([]byte(helloZ3))

	ev := nextEvent(t, m)
	assert.Equal(t, EventOpen, ev.Type)
	assert.Equal(t, "ZX123", ev.Serial)

	v := m.View()
	assert.True(t, v.Initialized)
	assert.Equal(t, "Lab Z3", v.Attributes.Name)
	assert.Equal(t, "z3", v.Attributes.Model)
	assert.Equal(t, "zaxe_pla", v.Attributes.Material)
	assert.Equal(t, "Zaxe PLA", v.Attributes.MaterialLabel)
	assert.Equal(t, "0.6", v.Attributes.Nozzle)
	assert.False(t, v.Attributes.IsHTTP)
	assert.True(t, v.Attributes.HasPin)
	assert.False(t, v.Attributes.HasNFCSpool)
	assert.Equal(t, "red", v.Attributes.FilamentColor)
	assert.Equal(t, 42.5, v.Attributes.FilamentRemaining)
	assert.Equal(t, fixedNow.Add(-2*time.Minute), v.Attributes.StartTime)
	assert.True(t, v.Attributes.Capabilities.MultiPlate)
	assert.True(t, v.State.Printing)
	assert.True(t, v.State.LedsOn)
	assert.True(t, v.State.FilamentPresent)
	assert.True(t, m.HelloReceived())
}

func TestMachine_HelloDefaults(t *testing.T) {
	m := newTestMachine()
	m.HandleMessage([]byte(`{"event":"hello","device_model":"x3 lite","has_pin":"True"}`))
	nextEvent(t, m)

	v := m.View()
	assert.Equal(t, "Unknown", v.Attributes.Name)
	assert.Equal(t, "Zaxe ABS", v.Attributes.MaterialLabel)
	assert.Equal(t, "0.4", v.Attributes.Nozzle)
	assert.Equal(t, DefaultVersion, v.Attributes.Version)
	assert.True(t, v.Attributes.Capabilities.Lite)
	assert.False(t, v.Attributes.HasPin, "lite devices do not report pins")
	assert.True(t, v.State.FilamentPresent, "legacy firmware uses the configured default")
}

func TestMachine_StatesUpdateOverwritesEveryFlag(t *testing.T) {
	m := newTestMachine()
	m.HandleMessage([]byte(helloZ3))
	nextEvent(t, m)

	m.HandleMessage([]byte(`{"event":"states_update","is_heating":"True"}`))
	ev := nextEvent(t, m)
	assert.Equal(t, EventUpdate, ev.Type)
	assert.Equal(t, "states_update", ev.Name)

	s := m.View().State
	assert.Equal(t, State{Heating: true}, s, "flags absent from the message must read false")
}

func TestMachine_QueuedEventsCarryTheirState(t *testing.T) {
	m := newTestMachine()
	m.HandleMessage([]byte(helloZ3))
	m.HandleMessage([]byte(`{"event":"states_update","is_printing":"True"}`))
	m.HandleMessage([]byte(`{"event":"states_update","is_printing":"False","is_error":"True"}`))

	open := nextEvent(t, m)
	assert.Equal(t, EventOpen, open.Type)
	assert.True(t, open.State.Printing)
	assert.True(t, open.State.LedsOn)

	printing := nextEvent(t, m)
	assert.Equal(t, State{Printing: true}, printing.State)

	failed := nextEvent(t, m)
	assert.Equal(t, State{HasError: true}, failed.State)
	assert.Equal(t, failed.State, m.View().State)
}

func TestMachine_LegacyFilamentDefaultIsConfigurable(t *testing.T) {
	m := NewMachine(Options{LegacyFilamentPresent: false})
	m.HandleMessage([]byte(`{"event":"hello","device_model":"z1","version":"3.2.0","is_filament_present":"True"}`))
	nextEvent(t, m)
	assert.False(t, m.View().State.FilamentPresent)
}

func TestMachine_ProgressEvents(t *testing.T) {
	m := newTestMachine()

	m.HandleMessage([]byte(`{"event":"upload_progress","progress":"35.5"}`))
	nextEvent(t, m)
	v := m.View()
	assert.Equal(t, 35.5, v.Progress)
	assert.True(t, v.State.Uploading)

	m.HandleMessage([]byte(`{"event":"print_progress","progress":12}`))
	nextEvent(t, m)
	v = m.View()
	assert.Equal(t, 12.0, v.Progress)
	assert.False(t, v.State.Uploading)

	m.SetUploading(true)
	m.HandleMessage([]byte(`{"event":"upload_done"}`))
	assert.Equal(t, "upload_done", nextEvent(t, m).Name)
	assert.False(t, m.View().State.Uploading)
}

func TestMachine_NarrowUpdates(t *testing.T) {
	testCases := []struct {
		name  string
		msg   string
		check func(t *testing.T, a Attributes)
	}{
		{
			name: "new_name", msg: `{"event":"new_name","name":"Bench"}`,
			check: func(t *testing.T, a Attributes) { assert.Equal(t, "Bench", a.Name) },
		},
		{
			name: "new_name default", msg: `{"event":"new_name"}`,
			check: func(t *testing.T, a Attributes) { assert.Equal(t, "Zaxe", a.Name) },
		},
		{
			name: "material_change", msg: `{"event":"material_change","material":"zaxe_petg"}`,
			check: func(t *testing.T, a Attributes) { assert.Equal(t, "Zaxe PETG", a.MaterialLabel) },
		},
		{
			name: "nozzle_change", msg: `{"event":"nozzle_change","nozzle":"0.8"}`,
			check: func(t *testing.T, a Attributes) { assert.Equal(t, "0.8", a.Nozzle) },
		},
		{
			name: "pin_change", msg: `{"event":"pin_change","has_pin":"true"}`,
			check: func(t *testing.T, a Attributes) { assert.True(t, a.HasPin) },
		},
		{
			name: "spool_data_change", msg: `{"event":"spool_data_change","has_nfc_spool":"TRUE","filament_color":"Blue"}`,
			check: func(t *testing.T, a Attributes) {
				assert.True(t, a.HasNFCSpool)
				assert.Equal(t, "blue", a.FilamentColor)
			},
		},
		{
			name: "temperature_update", msg: `{"event":"temperature_update","ext_temp":"210.5","ext_temp_set":"215","bed_temp":60,"bed_temp_set":"65"}`,
			check: func(t *testing.T, a Attributes) {
				assert.Equal(t, 210.5, a.NozzleTemp)
				assert.Equal(t, 215.0, a.NozzleTempTarget)
				assert.Equal(t, 60.0, a.BedTemp)
				assert.Equal(t, 65.0, a.BedTempTarget)
			},
		},
		{
			name: "start_print", msg: `{"event":"start_print","filename":"cube.gcode","elapsed_time":"60","estimated_time":"10m"}`,
			check: func(t *testing.T, a Attributes) {
				assert.Equal(t, "cube.gcode", a.PrintingFile)
				assert.Equal(t, fixedNow.Add(-time.Minute), a.StartTime)
				assert.Equal(t, "10m", a.EstimatedTime)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine()
			m.HandleMessage([]byte(tc.msg))
			ev := nextEvent(t, m)
			assert.Equal(t, EventUpdate, ev.Type)
			assert.Equal(t, strings.Fields(tc.name)[0], ev.Name)
			tc.check(t, m.View().Attributes)
		})
	}
}

func TestMachine_IgnoredAndMalformed(t *testing.T) {
	m := newTestMachine()
	before := m.View()

	for _, msg := range []string{
		`{"event":"ping"}`,
		`{"event":"temperature_change","ext_temp":"300"}`,
		`not json`,
		`{"no_event":true}`,
		`[]`,
	} {
		m.HandleMessage([]byte(msg))
	}

	assertNoEvent(t, m)
	assert.Equal(t, before, m.View())
}

func TestMachine_StopSuppressesEvents(t *testing.T) {
	m := NewMachine(Options{EventBuffer: 1})
	m.Stop()
	m.Stop()
	assert.True(t, m.Stopped())

	done := make(chan struct{})
	go func() {
		m.Emit(EventClose, "")
		m.Emit(EventClose, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked after stop")
	}
	assertNoEvent(t, m)
}

func TestMachine_SeedAndUpload(t *testing.T) {
	m := newTestMachine()
	m.Seed("SN1", "Remote Z3", "Z3", "3.5.80")
	v := m.View()
	assert.Equal(t, "SN1", v.Attributes.Serial)
	assert.True(t, v.Attributes.Capabilities.RemoteUpdate)
	assert.False(t, v.Initialized)

	m.SetUploading(true)
	m.SetUploadProgress(UploadProgress{Percent: 50, Transferred: "1.00 MB", Total: "2.00 MB"})
	ev := nextEvent(t, m)
	assert.Equal(t, "upload_progress", ev.Name)
	assert.Equal(t, 50, m.View().Upload.Percent)

	m.SetAvatar([]byte{1, 2})
	assert.Equal(t, []byte{1, 2}, m.Avatar())
}

func TestEncodeCommand(t *testing.T) {
	b, err := EncodeCommand(CmdPause, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request":"pause"}`, string(b))

	b, err = EncodeCommand(CmdChangeName, map[string]any{"name": "Bench"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"request":"change_name","name":"Bench"}`, string(b))

	_, err = EncodeCommand(CmdChangeName, nil)
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = ParseCommand("explode")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	c, err := ParseCommand("toggle_leds")
	require.NoError(t, err)
	assert.Equal(t, CmdToggleLeds, c)
}
