package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRoom(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    RoomMessage
		wantErr bool
	}{
		{
			name: "join",
			raw:  `{"type":"join","room_id":"default","username":" alice "}`,
			want: Join{RoomID: "default", Username: "alice"},
		},
		{name: "join without room", raw: `{"type":"join","username":"alice"}`, wantErr: true},
		{name: "join without username", raw: `{"type":"join","room_id":"default"}`, wantErr: true},
		{name: "screen start", raw: `{"type":"screen_start"}`, want: ScreenStart{}},
		{name: "screen stop", raw: `{"type":"screen_stop"}`, want: ScreenStop{}},
		{name: "audio without data", raw: `{"type":"audio"}`, wantErr: true},
		{name: "audio with null data", raw: `{"type":"audio","data":null}`, wantErr: true},
		{name: "frame without data", raw: `{"type":"screen_frame"}`, wantErr: true},
		{name: "unknown kind", raw: `{"type":"dance"}`, want: Unrecognized{Kind: "dance"}},
		{name: "missing type", raw: `{"room_id":"x"}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "json array", raw: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRoom([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v (%#v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeRoomKeepsFramePayloadVerbatim(t *testing.T) {
	raw := `{"type":"audio","data":[0.1, -0.25, 3]}`
	msg, err := DecodeRoom([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audio, ok := msg.(Audio)
	if !ok {
		t.Fatalf("expected Audio, got %T", msg)
	}
	if string(audio.Data) != `[0.1, -0.25, 3]` {
		t.Errorf("payload was rewritten: %s", audio.Data)
	}
}

func TestDecodeCall(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    CallMessage
		wantErr bool
	}{
		{name: "register", raw: `{"type":"register","username":"bob"}`, want: Register{Username: "bob"}},
		{name: "register blank", raw: `{"type":"register","username":"  "}`, wantErr: true},
		{
			name: "request defaults to audio",
			raw:  `{"type":"call_request","to_user":"bob"}`,
			want: CallRequest{ToUser: "bob", Kind: CallAudio},
		},
		{
			name: "video request",
			raw:  `{"type":"call_request","to_user":"bob","call_type":"video"}`,
			want: CallRequest{ToUser: "bob", Kind: CallVideo},
		},
		{name: "request bad kind", raw: `{"type":"call_request","to_user":"bob","call_type":"fax"}`, wantErr: true},
		{name: "request without target", raw: `{"type":"call_request"}`, wantErr: true},
		{name: "accept", raw: `{"type":"call_accept","call_id":"c1"}`, want: CallAccept{CallID: "c1"}},
		{name: "reject", raw: `{"type":"call_reject","call_id":"c1"}`, want: CallReject{CallID: "c1"}},
		{name: "end", raw: `{"type":"call_end","call_id":"c1"}`, want: CallEnd{CallID: "c1"}},
		{name: "end without id", raw: `{"type":"call_end"}`, wantErr: true},
		{name: "offer without sdp", raw: `{"type":"sdp_offer","call_id":"c1","to_user":"bob"}`, wantErr: true},
		{name: "candidate without id", raw: `{"type":"ice_candidate","candidate":{}}`, wantErr: true},
		{name: "unknown", raw: `{"type":"call_timeout"}`, want: Unrecognized{Kind: "call_timeout"}},
		{name: "garbage", raw: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCall([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v (%#v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeCallRelay(t *testing.T) {
	raw := `{"type":"ice_candidate","call_id":"c1","to_user":"bob","candidate":{"candidate":"a=1","sdpMid":"0"}}`
	msg, err := DecodeCall([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	relay, ok := msg.(Relay)
	if !ok {
		t.Fatalf("expected Relay, got %T", msg)
	}
	if relay.Kind != KindICECandidate || relay.CallID != "c1" || relay.ToUser != "bob" {
		t.Errorf("unexpected relay %+v", relay)
	}
	if string(relay.Payload) != `{"candidate":"a=1","sdpMid":"0"}` {
		t.Errorf("payload was rewritten: %s", relay.Payload)
	}
}

func TestUserListEncodesNullSharer(t *testing.T) {
	b := Encode(UserList{Type: KindUserList, Users: []string{"a"}, ScreenSharer: Sharer("")})

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if v, ok := decoded["screen_sharer"]; !ok || v != nil {
		t.Errorf("expected explicit null screen_sharer, got %v (present=%v)", v, ok)
	}
	if decoded["screen_active"] != false {
		t.Errorf("expected screen_active false, got %v", decoded["screen_active"])
	}
}

func TestCallErrorShape(t *testing.T) {
	b := Encode(CallError("alice", "nope"))

	var decoded struct {
		Type     Kind              `json:"type"`
		FromUser string            `json:"from_user"`
		ToUser   string            `json:"to_user"`
		Payload  map[string]string `json:"payload"`
		Time     string            `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Type != KindCallError || decoded.FromUser != SystemUser || decoded.ToUser != "alice" {
		t.Errorf("unexpected envelope %+v", decoded)
	}
	if decoded.Payload["error"] != "nope" {
		t.Errorf("unexpected payload %v", decoded.Payload)
	}
	if len(decoded.Time) != len("15:04:05") {
		t.Errorf("unexpected timestamp %q", decoded.Time)
	}
}

func TestIsMedia(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{raw: `{"type":"audio","data":"AAEC"}`, want: true},
		{raw: `{"type":"screen_frame","data":{}}`, want: true},
		{raw: `{"type":"screen_stop"}`, want: false},
		{raw: `{"type":"join","room_id":"r","username":"u"}`, want: false},
		{raw: `{"type":"call_end","call_id":"x"}`, want: false},
		{raw: `not json`, want: false},
	}
	for _, tt := range tests {
		if got := IsMedia([]byte(tt.raw)); got != tt.want {
			t.Errorf("IsMedia(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
