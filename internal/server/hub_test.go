package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"careline-chat/internal/services"
)

// newTestHub builds a hub with in-process fan-out only. Clients are
// attached to rooms directly; the register path needs live sockets and a
// database, which fan-out does not.
func newTestHub(t *testing.T, typingExpiry time.Duration) *Hub {
	t.Helper()
	presenceService := services.NewPresenceService(nil, nil, nil)
	h := NewHub(nil, nil, presenceService, typingExpiry)
	go h.Run()
	t.Cleanup(func() { close(h.stopChan) })
	return h
}

func newTestClient(h *Hub, username string) *Client {
	return NewClient(h, nil, uuid.New(), username, uuid.New().String())
}

func recvEnvelope(t *testing.T, c *Client, timeout time.Duration) (Envelope, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env, true
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

func TestEmitToRoom_ExcludesOriginator(t *testing.T) {
	h := newTestHub(t, time.Second)
	sender := newTestClient(h, "alice")
	peer := newTestClient(h, "bob")
	other := newTestClient(h, "carol")

	roomID := uuid.New()
	h.JoinRoom(sender, roomID)
	h.JoinRoom(peer, roomID)
	h.JoinRoom(other, roomID)

	h.EmitToRoom(roomID, sender.userID, EvtUserTyping, userTypingPayload{
		UserID: sender.userID, Username: "alice", ChatID: roomID, IsTyping: true,
	})

	for _, c := range []*Client{peer, other} {
		env, ok := recvEnvelope(t, c, time.Second)
		if !ok {
			t.Fatalf("%s received nothing", c.username)
		}
		if env.Event != EvtUserTyping {
			t.Fatalf("got event %q, want %q", env.Event, EvtUserTyping)
		}
		var p userTypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.UserID != sender.userID || !p.IsTyping {
			t.Fatalf("unexpected payload: %+v", p)
		}
	}

	if _, ok := recvEnvelope(t, sender, 50*time.Millisecond); ok {
		t.Fatal("originator must not receive its own room broadcast")
	}
}

func TestEmitToUser_ReachesEveryConnection(t *testing.T) {
	h := newTestHub(t, time.Second)
	phone := newTestClient(h, "alice")
	laptop := NewClient(h, nil, phone.userID, "alice", uuid.New().String())

	h.mu.Lock()
	h.clients[phone.userID] = map[string]*Client{
		phone.connectionID:  phone,
		laptop.connectionID: laptop,
	}
	h.mu.Unlock()

	h.EmitToUser(phone.userID, EvtChatCreated, chatRoomPayload{ChatID: uuid.New()})

	for _, c := range []*Client{phone, laptop} {
		env, ok := recvEnvelope(t, c, time.Second)
		if !ok {
			t.Fatalf("connection %s received nothing", c.connectionID)
		}
		if env.Event != EvtChatCreated {
			t.Fatalf("got event %q, want %q", env.Event, EvtChatCreated)
		}
	}
}

func TestLeaveRoom_StopsDeliveryAndPrunesRoom(t *testing.T) {
	h := newTestHub(t, time.Second)
	c := newTestClient(h, "alice")
	roomID := uuid.New()

	h.JoinRoom(c, roomID)
	h.LeaveRoom(c, roomID)

	h.EmitToRoom(roomID, uuid.Nil, EvtMessageReceived, chatRoomPayload{ChatID: roomID})
	if _, ok := recvEnvelope(t, c, 50*time.Millisecond); ok {
		t.Fatal("received broadcast after leaving the room")
	}

	h.mu.RLock()
	_, stillThere := h.rooms[roomID]
	h.mu.RUnlock()
	if stillThere {
		t.Fatal("empty room not pruned")
	}
	if c.rooms[roomID] {
		t.Fatal("client still tracks the room")
	}
}

func TestTypingTimer_AutoExpiryBroadcastsStop(t *testing.T) {
	h := newTestHub(t, 40*time.Millisecond)
	typist := newTestClient(h, "alice")
	watcher := newTestClient(h, "bob")
	roomID := uuid.New()
	h.JoinRoom(typist, roomID)
	h.JoinRoom(watcher, roomID)

	typist.armTypingTimer(roomID)

	env, ok := recvEnvelope(t, watcher, time.Second)
	if !ok {
		t.Fatal("no expiry broadcast")
	}
	if env.Event != EvtUserStoppedTyping {
		t.Fatalf("got event %q, want %q", env.Event, EvtUserStoppedTyping)
	}
	var p userTypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.IsTyping || p.UserID != typist.userID {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, ok := recvEnvelope(t, typist, 50*time.Millisecond); ok {
		t.Fatal("typist must not receive its own stop broadcast")
	}

	typist.typingMu.Lock()
	remaining := len(typist.typingTimers)
	typist.typingMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expired timer still tracked: %d", remaining)
	}
}

func TestTypingTimer_CancelSuppressesExpiry(t *testing.T) {
	h := newTestHub(t, 30*time.Millisecond)
	typist := newTestClient(h, "alice")
	watcher := newTestClient(h, "bob")
	roomID := uuid.New()
	h.JoinRoom(typist, roomID)
	h.JoinRoom(watcher, roomID)

	typist.armTypingTimer(roomID)
	typist.cancelTypingTimers()

	if _, ok := recvEnvelope(t, watcher, 120*time.Millisecond); ok {
		t.Fatal("cancelled timer still broadcast a stop")
	}
}

func TestEmit_AfterShutdownDoesNotPanic(t *testing.T) {
	h := newTestHub(t, time.Second)
	c := newTestClient(h, "alice")
	roomID := uuid.New()
	h.JoinRoom(c, roomID)

	// Eviction can race a handler still running on the read loop; a late
	// emit must be dropped, not sent on the closed channel.
	c.closeSend()

	c.emit(EvtChatJoined, chatRoomPayload{ChatID: roomID})
	c.emitError("late")

	h.EmitToRoom(roomID, uuid.Nil, EvtMessageReceived, chatRoomPayload{ChatID: roomID})
	time.Sleep(20 * time.Millisecond)

	c.closeSend() // idempotent

	if _, ok := <-c.send; ok {
		t.Fatal("frame enqueued after shutdown")
	}
}

func TestClientRateLimiter_Buckets(t *testing.T) {
	rl := NewClientRateLimiter()

	for i := 0; i < maxTypingPerMinute; i++ {
		if !rl.Allow(EvtTypingStart) {
			t.Fatalf("typing denied at %d of %d", i, maxTypingPerMinute)
		}
	}
	if rl.Allow(EvtTypingStart) {
		t.Fatal("typing allowed past the bucket")
	}

	// Other buckets are untouched.
	if !rl.Allow(EvtSendMessage) {
		t.Fatal("message bucket drained by typing events")
	}
	// Uncategorized events are never limited.
	if !rl.Allow(EvtJoinChat) {
		t.Fatal("join limited")
	}
}
