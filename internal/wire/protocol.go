// Package wire defines the JSON bodies exchanged inside encrypted payloads.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is a presence state published on the status topic.
type Status string

const (
	StatusOnline         Status = "online"
	StatusOffline        Status = "offline"
	StatusConnectionLost Status = "connection_lost" // last-will payload
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusConnectionLost:
		return true
	}
	return false
}

// Gone reports whether s means the user left the room.
func (s Status) Gone() bool {
	return s == StatusOffline || s == StatusConnectionLost
}

// Action is a presentation command published on the presentation topic.
type Action string

const (
	ActionStart    Action = "start"
	ActionEnd      Action = "end"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionBlackout Action = "blackout"
)

// Actions lists every action in display order.
var Actions = []Action{ActionStart, ActionEnd, ActionNext, ActionPrevious, ActionBlackout}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionEnd, ActionNext, ActionPrevious, ActionBlackout:
		return true
	}
	return false
}

// ErrMalformed is returned when a decrypted payload is not a valid message.
var ErrMalformed = errors.New("malformed message")

// Presence is {"user", "status"}.
type Presence struct {
	User   string `json:"user"`
	Status Status `json:"status"`
}

// Command is {"user", "action"}.
type Command struct {
	User   string `json:"user"`
	Action Action `json:"action"`
}

// Encode serializes a message body.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePresence parses a status payload. Unknown statuses are malformed.
func DecodePresence(data []byte) (Presence, error) {
	var p Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return Presence{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.User == "" {
		return Presence{}, fmt.Errorf("%w: missing user", ErrMalformed)
	}
	if !p.Status.Valid() {
		return Presence{}, fmt.Errorf("%w: unknown status %q", ErrMalformed, p.Status)
	}
	return p, nil
}

// DecodeCommand parses a presentation payload. The action is not validated
// here so the router can log and deny unknown actions by name.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Action == "" {
		return Command{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return c, nil
}

// ParseAction maps console shorthands ("n", "prev", ...) to actions.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "n", "next", "right":
		return ActionNext, true
	case "p", "prev", "previous", "left":
		return ActionPrevious, true
	case "s", "start":
		return ActionStart, true
	case "e", "end", "stop":
		return ActionEnd, true
	case "b", "blackout":
		return ActionBlackout, true
	}
	return "", false
}
