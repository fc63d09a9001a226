package sio

import (
	"encoding/json"
	"testing"
)

func TestPacketEncode(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   string
	}{
		{name: "default namespace connect", packet: Packet{Type: PacketConnect, Data: json.RawMessage(`{"sid":"x"}`)}, want: `40{"sid":"x"}`},
		{name: "custom namespace event", packet: Packet{Type: PacketEvent, Namespace: "/chat", Data: json.RawMessage(`["a"]`)}, want: `42/chat,["a"]`},
		{name: "ack with id", packet: Packet{Type: PacketAck, ID: 12, HasID: true, Data: json.RawMessage(`[]`)}, want: `4312[]`},
		{name: "namespace without slash", packet: Packet{Type: PacketDisconnect, Namespace: "chat"}, want: `41/chat,`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.packet.Encode(); got != tt.want {
				t.Fatalf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		raw       string
		wantType  PacketType
		wantNS    string
		wantID    int
		wantHasID bool
		wantData  string
	}{
		{raw: `0`, wantType: PacketConnect, wantNS: "/"},
		{raw: `0/admin,{"token":"t"}`, wantType: PacketConnect, wantNS: "/admin", wantData: `{"token":"t"}`},
		{raw: `0/admin`, wantType: PacketConnect, wantNS: "/admin"},
		{raw: `2["user_uttered",{"message":"hi"}]`, wantType: PacketEvent, wantNS: "/", wantData: `["user_uttered",{"message":"hi"}]`},
		{raw: `2/chat,7["x"]`, wantType: PacketEvent, wantNS: "/chat", wantID: 7, wantHasID: true, wantData: `["x"]`},
		{raw: `1`, wantType: PacketDisconnect, wantNS: "/"},
		{raw: `51-["upload",{"_placeholder":true,"num":0}]`, wantType: PacketBinaryEvent, wantNS: "/", wantData: `["upload",{"_placeholder":true,"num":0}]`},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := decodePacket(tt.raw)
			if err != nil {
				t.Fatalf("decodePacket(%q) error: %v", tt.raw, err)
			}
			if got.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Namespace != tt.wantNS {
				t.Fatalf("namespace = %q, want %q", got.Namespace, tt.wantNS)
			}
			if got.HasID != tt.wantHasID || got.ID != tt.wantID {
				t.Fatalf("id = (%d,%v), want (%d,%v)", got.ID, got.HasID, tt.wantID, tt.wantHasID)
			}
			if string(got.Data) != tt.wantData {
				t.Fatalf("data = %s, want %s", got.Data, tt.wantData)
			}
		})
	}
}

func TestDecodePacketRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "9", `2{not json`} {
		if _, err := decodePacket(raw); err == nil {
			t.Fatalf("decodePacket(%q) expected error", raw)
		}
	}
}

func TestSplitEvent(t *testing.T) {
	name, args, err := splitEvent(json.RawMessage(`["session_request",{"session_id":null},3]`))
	if err != nil {
		t.Fatalf("splitEvent error: %v", err)
	}
	if name != "session_request" {
		t.Fatalf("name = %q, want session_request", name)
	}
	if len(args) != 2 {
		t.Fatalf("len(args) = %d, want 2", len(args))
	}

	if _, _, err := splitEvent(json.RawMessage(`[]`)); err == nil {
		t.Fatal("expected error for empty event")
	}
	if _, _, err := splitEvent(json.RawMessage(`[1]`)); err == nil {
		t.Fatal("expected error for non-string event name")
	}
}

func TestEventPacket(t *testing.T) {
	packet, err := eventPacket("/", "bot_uttered", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("eventPacket error: %v", err)
	}
	if got := packet.Encode(); got != `42["bot_uttered",{"text":"hi"}]` {
		t.Fatalf("Encode() = %q", got)
	}
}
