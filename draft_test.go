package main

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{
		connID: uuid.NewString(),
		send:   make(chan any, 32),
	}
}

// recvMsg pops the next queued message; handlers run synchronously in these
// tests, so anything expected is already buffered.
func recvMsg(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a queued message")
		return nil
	}
}

func requireNoMsg(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("expected no queued message, got %#v", msg)
	default:
	}
}

func drainClient(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func newTestHub(t *testing.T) (*DraftHub, *RoomStore) {
	t.Helper()

	store := testStore(t)
	hub := newDraftHub(testConfig(t), store, testCatalog(12), newSession("XYZ"))

	return hub, store
}

func joinTestClient(t *testing.T, hub *DraftHub, name string) *Client {
	t.Helper()

	c := newTestClient()
	hub.handleJoin(joinRequest{client: c, displayName: name})

	return c
}

func TestHubJoinBroadcastsLobby(t *testing.T) {
	req := require.New(t)
	hub, store := newTestHub(t)

	c1 := joinTestClient(t, hub, "Alice")

	lobby, ok := recvMsg(t, c1).(LobbyUpdateMessage)
	req.True(ok)
	req.Equal([]string{"Alice"}, lobby.ParticipantNames)

	ack, ok := recvMsg(t, c1).(JoinAckMessage)
	req.True(ok)
	req.True(ack.Accepted)

	c2 := joinTestClient(t, hub, "Bob")

	// Both subscribers observe the new membership.
	lobby, ok = recvMsg(t, c1).(LobbyUpdateMessage)
	req.True(ok)
	req.Equal([]string{"Alice", "Bob"}, lobby.ParticipantNames)

	lobby, ok = recvMsg(t, c2).(LobbyUpdateMessage)
	req.True(ok)
	req.Equal([]string{"Alice", "Bob"}, lobby.ParticipantNames)

	// Membership was durable before anyone heard about it.
	stored, err := store.Get("XYZ")
	req.NoError(err)
	req.Equal([]string{"Alice", "Bob"}, stored.ParticipantNames())
}

func TestHubRejectsDuplicateName(t *testing.T) {
	req := require.New(t)
	hub, store := newTestHub(t)

	c1 := joinTestClient(t, hub, "Alice")
	drainClient(c1)

	c2 := joinTestClient(t, hub, "Alice")

	errMsg, ok := recvMsg(t, c2).(JoinErrorMessage)
	req.True(ok)
	req.NotEmpty(errMsg.Reason)

	ack, ok := recvMsg(t, c2).(JoinAckMessage)
	req.True(ok)
	req.False(ack.Accepted)
	req.Equal(errMsg.Reason, ack.Reason)

	// The loser was never subscribed and the room never heard about it.
	requireNoMsg(t, c1)
	req.Len(hub.clients, 1)

	stored, err := store.Get("XYZ")
	req.NoError(err)
	req.Equal([]string{"Alice"}, stored.ParticipantNames())
}

func TestHubDraftFlow(t *testing.T) {
	req := require.New(t)
	hub, store := newTestHub(t)

	a := joinTestClient(t, hub, "A")
	b := joinTestClient(t, hub, "B")
	c := joinTestClient(t, hub, "C")
	for _, client := range []*Client{a, b, c} {
		drainClient(client)
	}

	hub.handleStart(startRequest{
		client:     a,
		orderNames: []string{"A", "B", "C", "A", "B", "C"},
	})

	started, ok := recvMsg(t, a).(DraftStartedMessage)
	req.True(ok)
	req.Equal([]string{"A", "B", "C", "A", "B", "C"}, started.TurnOrderNames)
	req.Equal([]string{a.connID, b.connID, c.connID, a.connID, b.connID, c.connID}, started.TurnOrderConnections)
	req.Len(started.Pool, 12)
	drainClient(b)
	drainClient(c)

	// A second start is a contract violation and changes nothing.
	hub.handleStart(startRequest{client: a, orderNames: []string{"A", "B", "C"}})
	requireNoMsg(t, a)

	hub.handlePick(pickRequest{client: a, itemName: "Item1", slot: 0})

	update, ok := recvMsg(t, a).(DraftUpdateMessage)
	req.True(ok)
	req.Len(update.Pool, 11)
	req.Equal("Item1", update.PickSchedule[0].Item.Name)
	req.Equal(b.connID, update.NextConnection)
	drainClient(b)
	drainClient(c)

	// Out of turn, filled slot, and vanished item are all silent.
	hub.handlePick(pickRequest{client: c, itemName: "Item2", slot: 1})
	hub.handlePick(pickRequest{client: a, itemName: "Item2", slot: 0})
	hub.handlePick(pickRequest{client: b, itemName: "Item1", slot: 1})
	for _, client := range []*Client{a, b, c} {
		requireNoMsg(t, client)
	}

	clients := []*Client{a, b, c, a, b, c}
	for slot := 1; slot < 5; slot++ {
		hub.handlePick(pickRequest{
			client:   clients[slot],
			itemName: fmt.Sprintf("Item%d", slot+1),
			slot:     slot,
		})
	}
	for _, client := range []*Client{a, b, c} {
		drainClient(client)
	}

	hub.handlePick(pickRequest{client: c, itemName: "Item6", slot: 5})

	// Exactly one terminal message, no trailing update.
	finished, ok := recvMsg(t, a).(DraftFinishedMessage)
	req.True(ok)
	req.Len(finished.PickSchedule, 6)
	for _, slot := range finished.PickSchedule {
		req.NotNil(slot)
	}
	requireNoMsg(t, a)

	// Picks after the end are dropped.
	hub.handlePick(pickRequest{client: a, itemName: "Item7", slot: 0})
	drainClient(a)
	drainClient(b)
	drainClient(c)
	for _, client := range []*Client{a, b, c} {
		requireNoMsg(t, client)
	}

	stored, err := store.Get("XYZ")
	req.NoError(err)
	req.True(stored.Finished())
	req.Len(stored.Pool, 6)
}

func TestHubRejoinReplaysState(t *testing.T) {
	req := require.New(t)
	hub, store := newTestHub(t)

	a := joinTestClient(t, hub, "A")
	b := joinTestClient(t, hub, "B")
	drainClient(a)
	drainClient(b)

	hub.handleStart(startRequest{client: a, orderNames: []string{"A", "B", "A", "B"}})
	hub.handlePick(pickRequest{client: a, itemName: "Item3", slot: 0})
	drainClient(a)
	drainClient(b)

	hub.handleUnregister(a)
	req.Len(hub.clients, 1)

	a2 := joinTestClient(t, hub, "A")

	lobby, ok := recvMsg(t, a2).(LobbyUpdateMessage)
	req.True(ok)
	req.Equal([]string{"A", "B"}, lobby.ParticipantNames)

	// Replay carries the rebound connections so the rejoiner can
	// reconstruct whose turn it is without any broadcast history.
	started, ok := recvMsg(t, a2).(DraftStartedMessage)
	req.True(ok)
	req.Equal([]string{a2.connID, b.connID, a2.connID, b.connID}, started.TurnOrderConnections)
	req.Len(started.Pool, 11)

	update, ok := recvMsg(t, a2).(DraftUpdateMessage)
	req.True(ok)
	req.Equal("Item3", update.PickSchedule[0].Item.Name)
	req.Equal(b.connID, update.NextConnection)

	ack, ok := recvMsg(t, a2).(JoinAckMessage)
	req.True(ok)
	req.True(ack.Accepted)

	stored, err := store.Get("XYZ")
	req.NoError(err)
	req.Equal([]string{a2.connID, b.connID, a2.connID, b.connID}, stored.OrderConns)

	// The rebound connection owns A's remaining slot.
	hub.handlePick(pickRequest{client: b, itemName: "Item1", slot: 1})
	drainClient(a2)
	drainClient(b)
	hub.handlePick(pickRequest{client: a2, itemName: "Item2", slot: 2})
	_, ok = recvMsg(t, a2).(DraftUpdateMessage)
	req.True(ok)
}

func TestHubUnregisterKeepsParticipant(t *testing.T) {
	req := require.New(t)
	hub, store := newTestHub(t)

	a := joinTestClient(t, hub, "Alice")
	drainClient(a)

	hub.handleUnregister(a)
	req.Empty(hub.clients)

	// Unregistering twice is harmless.
	hub.handleUnregister(a)

	stored, err := store.Get("XYZ")
	req.NoError(err)
	req.Equal([]string{"Alice"}, stored.ParticipantNames())
}

func TestManagerRevivesStoredRooms(t *testing.T) {
	req := require.New(t)
	cfg := testConfig(t)

	store, err := openRoomStore(cfg)
	req.NoError(err)
	t.Cleanup(func() { _ = store.Close() })

	dm := newDraftManager(cfg, store, testCatalog(12))

	_, err = dm.hubFor("XYZ", false)
	req.ErrorIs(err, errRoomNotFound)

	hub, err := dm.hubFor("xyz", true)
	req.NoError(err)
	req.Equal("XYZ", hub.code)

	again, err := dm.hubFor("XYZ", true)
	req.NoError(err)
	req.Same(hub, again)

	c := joinTestClient(t, hub, "Alice")
	drainClient(c)

	req.True(dm.evict("xyz"))
	req.False(dm.evict("XYZ"))
	req.True(c.closed)

	// The stored session outlives the hub and seeds its successor.
	revived, err := dm.hubFor("XYZ", false)
	req.NoError(err)
	req.NotSame(hub, revived)
	req.Equal([]string{"Alice"}, revived.session.ParticipantNames())
}
