package actions

import (
	"context"
	"fmt"
)

const (
	eventSlot = "slot"
	eventUser = "user"
)

// Slots holds the conversation variables the dialogue manager sends with a request.
type Slots map[string]any

// String returns the slot as text. Absent, null and non-string values read as "".
func (s Slots) String(name string) string {
	value, ok := s[name]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Event is a state update returned to the dialogue manager.
type Event struct {
	Event     string   `json:"event"`
	Timestamp *float64 `json:"timestamp"`
	Name      string   `json:"name"`
	Value     any      `json:"value"`
}

// SlotSet requests that the dialogue manager store value in the named slot.
func SlotSet(name string, value any) Event {
	return Event{Event: eventSlot, Name: name, Value: value}
}

// ClearSlot resets the named slot to null.
func ClearSlot(name string) Event {
	return SlotSet(name, nil)
}

// Tracker is the conversation snapshot attached to an action request.
type Tracker struct {
	SenderID      string           `json:"sender_id"`
	Slots         Slots            `json:"slots"`
	LatestMessage map[string]any   `json:"latest_message,omitempty"`
	Events        []map[string]any `json:"events"`
	ActiveLoop    map[string]any   `json:"active_loop,omitempty"`
}

// Slot returns the current value of a slot as text.
func (t Tracker) Slot(name string) string {
	return t.Slots.String(name)
}

// SlotsToValidate returns the slots set since the latest user message, later sets winning.
// A tracker without events yields its current non-null slots instead.
func (t Tracker) SlotsToValidate() Slots {
	if len(t.Events) == 0 {
		slots := make(Slots, len(t.Slots))
		for name, value := range t.Slots {
			if value != nil {
				slots[name] = value
			}
		}
		return slots
	}

	start := 0
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i]["event"] == eventUser {
			start = i + 1
			break
		}
	}

	slots := make(Slots)
	for _, event := range t.Events[start:] {
		if event["event"] != eventSlot {
			continue
		}
		name, _ := event["name"].(string)
		if name == "" {
			continue
		}
		slots[name] = event["value"]
	}
	return slots
}

// Domain is the dialogue manager's domain description, passed through untouched.
type Domain map[string]any

// Response is one utterance collected while running an action.
type Response struct {
	Text     string           `json:"text,omitempty"`
	Image    string           `json:"image,omitempty"`
	Buttons  []map[string]any `json:"buttons,omitempty"`
	Elements []map[string]any `json:"elements,omitempty"`
	Custom   map[string]any   `json:"custom,omitempty"`
	Template string           `json:"template,omitempty"`
}

// Dispatcher collects utterances in the order an action produces them.
type Dispatcher struct {
	messages []Response
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Utter queues a plain text message.
func (d *Dispatcher) Utter(text string) {
	d.messages = append(d.messages, Response{Text: text})
}

// UtterResponse queues a message with any combination of fields.
func (d *Dispatcher) UtterResponse(response Response) {
	d.messages = append(d.messages, response)
}

// Messages returns the collected utterances; it is never nil.
func (d *Dispatcher) Messages() []Response {
	messages := make([]Response, len(d.messages))
	copy(messages, d.messages)
	return messages
}

// Action is one named lookup handler.
type Action interface {
	Name() string
	Run(ctx context.Context, dispatcher *Dispatcher, tracker Tracker, domain Domain) ([]Event, error)
}
