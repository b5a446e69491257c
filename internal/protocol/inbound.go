package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned for frames that are not valid JSON envelopes or that
// lack a field required by their kind.
var ErrMalformed = errors.New("malformed message")

// RoomMessage is an inbound message on the room channel.
type RoomMessage interface {
	roomMessage()
}

// CallMessage is an inbound message on the call signaling channel.
type CallMessage interface {
	callMessage()
}

// Join asks to enter a room under a display name.
type Join struct {
	RoomID   string
	Username string
}

// Audio carries one opaque audio frame.
type Audio struct {
	Data json.RawMessage
}

type ScreenStart struct{}

type ScreenStop struct{}

// ScreenFrame carries one opaque screen capture frame.
type ScreenFrame struct {
	Data json.RawMessage
}

// Register binds a username to the signaling connection.
type Register struct {
	Username string
}

// CallRequest asks the hub to ring ToUser.
type CallRequest struct {
	ToUser string
	Kind   CallKind
}

// CallAccept, CallReject and CallEnd reference an existing call.
type CallAccept struct {
	CallID string
}

type CallReject struct {
	CallID string
}

type CallEnd struct {
	CallID string
}

// Relay is an SDP offer, SDP answer or ICE candidate addressed to the other
// party of a call. Payload is forwarded without inspection.
type Relay struct {
	Kind    Kind
	CallID  string
	ToUser  string
	Payload json.RawMessage
}

// Unrecognized is any frame whose type is outside the channel's kind set.
type Unrecognized struct {
	Kind Kind
}

func (Join) roomMessage()         {}
func (Audio) roomMessage()        {}
func (ScreenStart) roomMessage()  {}
func (ScreenStop) roomMessage()   {}
func (ScreenFrame) roomMessage()  {}
func (Unrecognized) roomMessage() {}

func (Register) callMessage()     {}
func (CallRequest) callMessage()  {}
func (CallAccept) callMessage()   {}
func (CallReject) callMessage()   {}
func (CallEnd) callMessage()      {}
func (Relay) callMessage()        {}
func (Unrecognized) callMessage() {}

type roomEnvelope struct {
	Type     Kind            `json:"type"`
	RoomID   string          `json:"room_id"`
	Username string          `json:"username"`
	Data     json.RawMessage `json:"data"`
}

type callEnvelope struct {
	Type      Kind            `json:"type"`
	Username  string          `json:"username"`
	ToUser    string          `json:"to_user"`
	CallType  CallKind        `json:"call_type"`
	CallID    string          `json:"call_id"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

// IsMedia reports whether raw is an audio or screen frame. Only the type
// field is read; frames that fail to parse are not media.
func IsMedia(raw []byte) bool {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return head.Type.Media()
}

// DecodeRoom parses one room channel frame.
func DecodeRoom(raw []byte) (RoomMessage, error) {
	var env roomEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case KindJoin:
		roomID := strings.TrimSpace(env.RoomID)
		username := strings.TrimSpace(env.Username)
		if roomID == "" {
			return nil, missing("room_id")
		}
		if username == "" {
			return nil, missing("username")
		}
		return Join{RoomID: roomID, Username: username}, nil
	case KindAudio:
		if isEmpty(env.Data) {
			return nil, missing("data")
		}
		return Audio{Data: env.Data}, nil
	case KindScreenStart:
		return ScreenStart{}, nil
	case KindScreenStop:
		return ScreenStop{}, nil
	case KindScreenFrame:
		if isEmpty(env.Data) {
			return nil, missing("data")
		}
		return ScreenFrame{Data: env.Data}, nil
	case "":
		return nil, missing("type")
	default:
		return Unrecognized{Kind: env.Type}, nil
	}
}

// DecodeCall parses one call signaling frame.
func DecodeCall(raw []byte) (CallMessage, error) {
	var env callEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case KindRegister:
		username := strings.TrimSpace(env.Username)
		if username == "" {
			return nil, missing("username")
		}
		return Register{Username: username}, nil
	case KindCallRequest:
		to := strings.TrimSpace(env.ToUser)
		if to == "" {
			return nil, missing("to_user")
		}
		kind := env.CallType
		if kind == "" {
			kind = CallAudio
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unsupported call_type %q", ErrMalformed, env.CallType)
		}
		return CallRequest{ToUser: to, Kind: kind}, nil
	case KindCallAccept, KindCallReject, KindCallEnd:
		if env.CallID == "" {
			return nil, missing("call_id")
		}
		switch env.Type {
		case KindCallAccept:
			return CallAccept{CallID: env.CallID}, nil
		case KindCallReject:
			return CallReject{CallID: env.CallID}, nil
		default:
			return CallEnd{CallID: env.CallID}, nil
		}
	case KindSDPOffer, KindSDPAnswer:
		return decodeRelay(env, env.SDP, "sdp")
	case KindICECandidate:
		return decodeRelay(env, env.Candidate, "candidate")
	case "":
		return nil, missing("type")
	default:
		return Unrecognized{Kind: env.Type}, nil
	}
}

func decodeRelay(env callEnvelope, payload json.RawMessage, field string) (CallMessage, error) {
	if env.CallID == "" {
		return nil, missing("call_id")
	}
	if isEmpty(payload) {
		return nil, missing(field)
	}
	return Relay{
		Kind:    env.Type,
		CallID:  env.CallID,
		ToUser:  strings.TrimSpace(env.ToUser),
		Payload: payload,
	}, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
