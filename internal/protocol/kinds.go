// Package protocol defines the JSON envelopes exchanged on the voice room
// channel and the call signaling channel.
//
// Each channel has a closed set of inbound message kinds. Decoding yields one
// of the concrete variant types declared in this package; kinds outside the
// set decode to Unrecognized so callers can match exhaustively.
package protocol

// Kind is the value of the "type" discriminator field.
type Kind string

// Room channel kinds.
const (
	KindJoin        Kind = "join"
	KindAudio       Kind = "audio"
	KindScreenStart Kind = "screen_start"
	KindScreenStop  Kind = "screen_stop"
	KindScreenFrame Kind = "screen_frame"
	KindUserList    Kind = "user_list"
	KindUserJoined  Kind = "user_joined"
	KindUserLeft    Kind = "user_left"
	KindScreenState Kind = "screen_state"
	KindError       Kind = "error"
)

// Call signaling kinds.
const (
	KindRegister     Kind = "register"
	KindRegistered   Kind = "registered"
	KindCallRequest  Kind = "call_request"
	KindCallRinging  Kind = "call_ringing"
	KindCallAccept   Kind = "call_accept"
	KindCallReject   Kind = "call_reject"
	KindCallEnd      Kind = "call_end"
	KindCallBusy     Kind = "call_busy"
	KindCallError    Kind = "call_error"
	KindSDPOffer     Kind = "sdp_offer"
	KindSDPAnswer    Kind = "sdp_answer"
	KindICECandidate Kind = "ice_candidate"
)

// Media reports whether k carries audio or screen data rather than state.
func (k Kind) Media() bool {
	return k == KindAudio || k == KindScreenFrame
}

// CallKind is the media type requested for a call.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// Valid reports whether k is one of the supported call kinds.
func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

// Channel names the logical endpoint a connection was opened on.
type Channel string

const (
	ChannelRoom Channel = "room"
	ChannelCall Channel = "call"
)
