package sio

import (
	"context"
	"encoding/json"
	"sync"
)

// ConnectHandler accepts or rejects a namespace connection. A non-nil error is sent back to the
// client as a CONNECT_ERROR.
type ConnectHandler func(s *Socket, auth json.RawMessage) error

// DisconnectHandler runs once per socket after it leaves the namespace.
type DisconnectHandler func(s *Socket, reason string)

// EventHandler handles one received event. Events of one socket run one at a time in arrival
// order on that socket's worker, so a slow handler never holds up other clients.
type EventHandler func(ctx context.Context, s *Socket, args []json.RawMessage)

// Namespace groups sockets, rooms and handlers under one Socket.IO namespace.
type Namespace struct {
	name   string
	server *Server

	mu           sync.RWMutex
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	events       map[string]EventHandler
	sockets      map[string]*Socket
	rooms        map[string]map[string]*Socket
}

func newNamespace(server *Server, name string) *Namespace {
	return &Namespace{
		name:    name,
		server:  server,
		events:  make(map[string]EventHandler),
		sockets: make(map[string]*Socket),
		rooms:   make(map[string]map[string]*Socket),
	}
}

// Name returns the namespace path.
func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) OnConnect(fn ConnectHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = fn
}

func (n *Namespace) OnDisconnect(fn DisconnectHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnect = fn
}

// OnEvent registers the handler for one event name, replacing any previous registration.
func (n *Namespace) OnEvent(event string, fn EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[event] = fn
}

// Emit sends an event to every socket joined to room.
func (n *Namespace) Emit(ctx context.Context, room string, event string, args ...any) error {
	return n.server.Emit(ctx, n.name, room, event, args...)
}

func (n *Namespace) connectHandler() ConnectHandler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.onConnect
}

func (n *Namespace) disconnectHandler() DisconnectHandler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.onDisconnect
}

func (n *Namespace) eventHandler(event string) (EventHandler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.events[event]
	return fn, ok
}

func (n *Namespace) socket(id string) (*Socket, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.sockets[id]
	return s, ok
}

// add registers the socket and joins it to the room named after its id.
func (n *Namespace) add(s *Socket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sockets[s.id] = s
	n.joinLocked(s.id, s)
}

// remove drops the socket from the namespace and all of its rooms.
func (n *Namespace) remove(s *Socket) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.sockets[s.id]; !ok {
		return false
	}
	delete(n.sockets, s.id)
	for room, members := range n.rooms {
		delete(members, s.id)
		if len(members) == 0 {
			delete(n.rooms, room)
		}
	}
	return true
}

func (n *Namespace) join(room string, s *Socket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sockets[s.id]; !ok {
		return
	}
	n.joinLocked(room, s)
}

func (n *Namespace) joinLocked(room string, s *Socket) {
	members, ok := n.rooms[room]
	if !ok {
		members = make(map[string]*Socket)
		n.rooms[room] = members
	}
	members[s.id] = s
}

func (n *Namespace) leave(room string, s *Socket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	members, ok := n.rooms[room]
	if !ok {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(n.rooms, room)
	}
}

func (n *Namespace) roomSockets(room string) []*Socket {
	n.mu.RLock()
	defer n.mu.RUnlock()

	members := n.rooms[room]
	out := make([]*Socket, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// eventQueueSize bounds the events buffered per socket before the connection reader waits.
const eventQueueSize = 64

type queuedEvent struct {
	handler EventHandler
	args    []json.RawMessage
	packet  Packet
}

// Socket is one client's membership in a namespace.
type Socket struct {
	id        string
	namespace *Namespace
	conn      *conn
	ctx       context.Context
	cancel    context.CancelFunc
	events    chan queuedEvent
}

func newSocket(ns *Namespace, c *conn) *Socket {
	ctx, cancel := context.WithCancel(c.ctx)
	return &Socket{
		id:        newID(),
		namespace: ns,
		conn:      c,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan queuedEvent, eventQueueSize),
	}
}

// enqueue hands an event to the socket worker. It waits while the queue is full and gives up
// once the socket is gone.
func (s *Socket) enqueue(event queuedEvent) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

// run executes queued events in order and acknowledges those that asked for it.
func (s *Socket) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.events:
			event.handler(s.ctx, s, event.args)
			if !event.packet.HasID {
				continue
			}
			ack := Packet{Type: PacketAck, Namespace: event.packet.Namespace, ID: event.packet.ID, HasID: true, Data: json.RawMessage("[]")}
			_ = s.conn.write(s.conn.ctx, ack.Encode())
		}
	}
}

// ID is the namespace-scoped socket id; it is also the name of the socket's private room.
func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) Namespace() string {
	return s.namespace.name
}

// Context is canceled when the socket disconnects.
func (s *Socket) Context() context.Context {
	return s.ctx
}

func (s *Socket) Join(room string) {
	s.namespace.join(room, s)
}

func (s *Socket) Leave(room string) {
	s.namespace.leave(room, s)
}

// Emit sends an event to this socket only.
func (s *Socket) Emit(ctx context.Context, event string, args ...any) error {
	packet, err := eventPacket(s.namespace.name, event, args...)
	if err != nil {
		return err
	}
	return s.conn.write(ctx, packet.Encode())
}
