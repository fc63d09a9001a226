package sio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types, sent as the first byte of every frame on either transport.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// PacketType is a Socket.IO v5 packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

const defaultNamespace = "/"

var errEmptyPacket = errors.New("empty packet")

// Packet is one decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        int
	HasID     bool
	Data      json.RawMessage
}

// openPayload is the Engine.IO handshake body.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// normalizeNamespace maps "" to "/" and guarantees a leading slash.
func normalizeNamespace(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == defaultNamespace {
		return defaultNamespace
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// Encode renders the packet as a complete Engine.IO message frame.
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(byte(p.Type))

	if ns := normalizeNamespace(p.Namespace); ns != defaultNamespace {
		b.WriteString(ns)
		b.WriteByte(',')
	}
	if p.HasID {
		b.WriteString(strconv.Itoa(p.ID))
	}
	b.Write(p.Data)

	return b.String()
}

// decodePacket parses the Socket.IO portion of an Engine.IO message (the frame without its
// leading '4').
func decodePacket(raw string) (Packet, error) {
	if raw == "" {
		return Packet{}, errEmptyPacket
	}

	p := Packet{Type: PacketType(raw[0]), Namespace: defaultNamespace}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("unknown packet type %q", raw[0])
	}
	rest := raw[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		// Attachment count prefix; the payload itself is not supported.
		if idx := strings.IndexByte(rest, '-'); idx >= 0 {
			rest = rest[idx+1:]
		}
	}

	if strings.HasPrefix(rest, "/") {
		idx := strings.IndexByte(rest, ',')
		if idx < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Packet{}, fmt.Errorf("parse ack id: %w", err)
		}
		p.ID = id
		p.HasID = true
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, errors.New("packet payload is not valid JSON")
		}
		p.Data = json.RawMessage(rest)
	}

	return p, nil
}

// eventPacket builds an EVENT packet for the given namespace and arguments.
func eventPacket(namespace string, event string, args ...any) (Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, event)
	items = append(items, args...)

	data, err := json.Marshal(items)
	if err != nil {
		return Packet{}, fmt.Errorf("encode %s event: %w", event, err)
	}

	return Packet{Type: PacketEvent, Namespace: namespace, Data: data}, nil
}

// splitEvent decodes an EVENT payload into its name and raw arguments.
func splitEvent(data json.RawMessage) (string, []json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return "", nil, fmt.Errorf("decode event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, errors.New("event payload is empty")
	}

	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, errors.New("event name must be a string")
	}

	return name, items[1:], nil
}
