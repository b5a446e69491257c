package protocol

import (
	"encoding/json"
	"time"
)

// UserList is the room roster broadcast after every membership change.
type UserList struct {
	Type         Kind     `json:"type"`
	Users        []string `json:"users"`
	ScreenSharer *string  `json:"screen_sharer"`
	ScreenActive bool     `json:"screen_active"`
}

// MemberEvent announces a single join or leave.
type MemberEvent struct {
	Type     Kind   `json:"type"`
	Username string `json:"username"`
}

// ScreenState announces a change of the active screen sharer.
type ScreenState struct {
	Type   Kind    `json:"type"`
	Sharer *string `json:"sharer"`
	Active bool    `json:"active"`
}

// Frame is a relayed audio or screen frame tagged with its sender.
type Frame struct {
	Type     Kind            `json:"type"`
	FromUser string          `json:"from_user"`
	Data     json.RawMessage `json:"data"`
}

// Error is the room channel error reply.
type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Signal is the envelope for every server-originated call signaling message.
type Signal struct {
	Type      Kind   `json:"type"`
	FromUser  string `json:"from_user"`
	ToUser    string `json:"to_user,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SystemUser is the from_user of signaling messages the hub originates itself.
const SystemUser = "system"

// NewSignal stamps a signaling envelope with the wall clock time in the
// HH:MM:SS form clients display.
func NewSignal(kind Kind, from, to, callID string, payload any) Signal {
	return Signal{
		Type:      kind,
		FromUser:  from,
		ToUser:    to,
		CallID:    callID,
		Payload:   payload,
		Timestamp: time.Now().Format(time.TimeOnly),
	}
}

// CallError builds a call_error addressed to user.
func CallError(user, message string) Signal {
	return NewSignal(KindCallError, SystemUser, user, "", map[string]string{"error": message})
}

// Encode marshals an outbound message. Every outbound type in this package is
// plain data, so a failure here is a programming error and yields nil.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Sharer converts an optional sharer name into its JSON form.
func Sharer(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}
