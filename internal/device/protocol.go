package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is an outbound request understood by the firmware.
type Command string

const (
	CmdUnloadFilament Command = "filament_unload"
	CmdSayHi          Command = "say_hi"
	CmdTogglePreheat  Command = "toggle_preheat"
	CmdToggleLeds     Command = "toggle_leds"
	CmdCancel         Command = "cancel"
	CmdPause          Command = "pause"
	CmdResume         Command = "resume"
	CmdChangeName     Command = "change_name"
	CmdFirmwareUpdate Command = "fw_update"
	CmdSendHello      Command = "send_hello"
	CmdStartStreaming Command = "start_streaming"
	CmdStopStreaming  Command = "stop_streaming"
)

var knownCommands = map[Command]struct{}{
	CmdUnloadFilament: {}, CmdSayHi: {}, CmdTogglePreheat: {}, CmdToggleLeds: {},
	CmdCancel: {}, CmdPause: {}, CmdResume: {}, CmdChangeName: {},
	CmdFirmwareUpdate: {}, CmdSendHello: {}, CmdStartStreaming: {}, CmdStopStreaming: {},
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingName    = errors.New("change_name requires a name")
)

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.TrimSpace(s))
	if _, ok := knownCommands[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// EncodeCommand builds the JSON frame for a command. Extra keys are merged
// next to "request".
func EncodeCommand(cmd Command, extra map[string]any) ([]byte, error) {
	if cmd == CmdChangeName {
		if name, _ := extra["name"].(string); strings.TrimSpace(name) == "" {
			return nil, ErrMissingName
		}
	}
	payload := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload["request"] = string(cmd)
	return json.Marshal(payload)
}

// fields is a decoded inbound message. Firmware sends most values as strings,
// booleans included ("True"/"False").
type fields map[string]json.RawMessage

func decodeFields(raw []byte) (fields, string, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", err
	}
	event := f.str("event", "")
	if event == "" {
		return nil, "", errors.New("message has no event")
	}
	return f, event, nil
}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && string(v) != "null"
}

func (f fields) str(key, def string) string {
	v, ok := f[key]
	if !ok || string(v) == "null" {
		return def
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}

// flag reads a boolean sent either as "True" or as a JSON bool.
func (f fields) flag(key string) bool {
	v, ok := f[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	return strings.EqualFold(f.str(key, "False"), "true")
}

func (f fields) num(key string, def float64) float64 {
	s := f.str(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return n
}
