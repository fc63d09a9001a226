package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"shopchat/pkg/bus"
	"shopchat/pkg/dialogue"
)

// conversationManager forwards inbound messages to the dialogue manager and serializes them per
// sender, so one conversation sees its messages in order while others proceed concurrently.
type conversationManager struct {
	client DialogueClient
	log    *slog.Logger

	mu    sync.Mutex
	lanes map[string]*senderLane
}

// senderLane admits one message of a sender at a time, in arrival order. It is dropped once
// nobody holds or waits on it. Fields are guarded by conversationManager.mu.
type senderLane struct {
	busy    bool
	waiters []chan struct{}
	refs    int
}

func newConversationManager(client DialogueClient, log *slog.Logger) *conversationManager {
	if log == nil {
		log = slog.Default()
	}

	return &conversationManager{
		client: client,
		log:    log.With("component", "gateway.conversations"),
		lanes:  make(map[string]*senderLane),
	}
}

// Handle sends one message to the dialogue manager and delivers its replies on inbound.Output.
func (m *conversationManager) Handle(ctx context.Context, inbound bus.InboundMessage) error {
	if inbound.Output == nil {
		return errors.New("inbound message has no output channel")
	}

	lane, err := m.acquire(ctx, inbound.SenderID)
	if err != nil {
		return fmt.Errorf("wait for conversation %s: %w", inbound.SenderID, err)
	}
	defer m.release(inbound.SenderID, lane)

	replies, err := m.client.Send(ctx, inbound.SenderID, inbound.Text, inbound.Metadata)
	if err != nil {
		return fmt.Errorf("forward message from %s: %w", inbound.SenderID, err)
	}

	m.log.Debug("Delivering replies", "channel", inbound.Channel, "sender_id", inbound.SenderID, "replies", len(replies))
	return dialogue.Deliver(ctx, inbound.Output, inbound.SenderID, replies)
}

// acquire waits for the sender's earlier messages to finish. Waiters are admitted first come,
// first served.
func (m *conversationManager) acquire(ctx context.Context, senderID string) (*senderLane, error) {
	m.mu.Lock()
	lane, ok := m.lanes[senderID]
	if !ok {
		lane = &senderLane{}
		m.lanes[senderID] = lane
	}
	lane.refs++
	if !lane.busy {
		lane.busy = true
		m.mu.Unlock()
		return lane, nil
	}
	turn := make(chan struct{})
	lane.waiters = append(lane.waiters, turn)
	m.mu.Unlock()

	select {
	case <-turn:
		return lane, nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, waiter := range lane.waiters {
		if waiter == turn {
			lane.waiters = append(lane.waiters[:i], lane.waiters[i+1:]...)
			m.dropRefLocked(senderID, lane)
			return nil, ctx.Err()
		}
	}
	// The lane was handed over while the context was being canceled.
	return lane, nil
}

// release hands the lane to the next waiter, if any.
func (m *conversationManager) release(senderID string, lane *senderLane) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(lane.waiters) > 0 {
		next := lane.waiters[0]
		lane.waiters = lane.waiters[1:]
		close(next)
	} else {
		lane.busy = false
	}
	m.dropRefLocked(senderID, lane)
}

func (m *conversationManager) dropRefLocked(senderID string, lane *senderLane) {
	lane.refs--
	if lane.refs == 0 {
		delete(m.lanes, senderID)
	}
}

// waiting reports how many messages of a sender are queued behind the one in flight.
func (m *conversationManager) waiting(senderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lane, ok := m.lanes[senderID]; ok {
		return len(lane.waiters)
	}
	return 0
}

// active reports how many senders currently hold or wait on a lane.
func (m *conversationManager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}
