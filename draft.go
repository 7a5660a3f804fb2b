// Draftbox draft rooms
//
// Each room is a short-code session in which a fixed set of managers take
// turns claiming items from a shared shrinking pool. Managers join a lobby
// under a display name, somebody starts the draft with a full turn-order
// assignment, and picks are committed one schedule slot at a time until the
// schedule is exhausted.
//
// Features:
// - One websocket endpoint at /ws; events carry the room code
// - Connections identified by a server-assigned uuid, sent as session-info
// - Names are the stable identity: a manager who reconnects mid-draft under
//   a new connection is rebound to their turn slots and replayed full state
// - Duplicate display names prevented before the draft starts; no new names
//   accepted after
// - Stale pick and start requests are dropped silently; the next broadcast
//   resyncs the client
// - Every accepted mutation is persisted to the room store before it is
//   broadcast, so a REST read never observes state a crash could roll back
// - Idle in-memory rooms evicted after a configurable timeout; the stored
//   session survives until the store's own retention reaper removes it

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var validate = validator.New()

// envelope carries just enough of an inbound event to dispatch on.
type envelope struct {
	Type string `json:"type"` // "join-room", "start-draft", "make-pick"
}

type joinPayload struct {
	Code        string `json:"code" validate:"required,max=16"`
	DisplayName string `json:"displayName" validate:"required,max=32"`
}

type startPayload struct {
	Code           string   `json:"code" validate:"required,max=16"`
	TurnOrderNames []string `json:"turnOrderNames" validate:"required,min=1,dive,required"`
}

type pickPayload struct {
	Code      string `json:"code" validate:"required,max=16"`
	ItemName  string `json:"itemName" validate:"required"`
	SlotIndex *int   `json:"slotIndex" validate:"required,min=0"`
}

// SessionInfoMessage is sent once on connect so the client learns the
// volatile identity it will later see in nextConnection.
type SessionInfoMessage struct {
	Type         string `json:"type"` // "session-info"
	ConnectionID string `json:"connectionId"`
}

type JoinAckMessage struct {
	Type     string `json:"type"` // "join-ack"
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// JoinErrorMessage duplicates a rejection for clients that predate the ack.
type JoinErrorMessage struct {
	Type   string `json:"type"` // "join-error"
	Reason string `json:"reason"`
}

type LobbyUpdateMessage struct {
	Type             string   `json:"type"` // "lobby-update"
	ParticipantNames []string `json:"participantNames"`
}

type DraftStartedMessage struct {
	Type                 string   `json:"type"` // "draft-started"
	TurnOrderNames       []string `json:"turnOrderNames"`
	TurnOrderConnections []string `json:"turnOrderConnections"`
	Pool                 []Item   `json:"pool"`
}

type DraftUpdateMessage struct {
	Type           string  `json:"type"` // "draft-update"
	PickSchedule   []*Pick `json:"pickSchedule"`
	Pool           []Item  `json:"pool"`
	NextConnection string  `json:"nextConnection"`
}

type DraftFinishedMessage struct {
	Type         string  `json:"type"` // "draft-finished"
	PickSchedule []*Pick `json:"pickSchedule"`
}

type Client struct {
	conn   *websocket.Conn
	connID string
	hub    *DraftHub // touched only from the readPump goroutine

	mu     sync.Mutex
	send   chan any
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:   conn,
		connID: uuid.NewString(),
		send:   make(chan any, 16),
	}
}

// trySend queues a message without blocking, reporting failure when the
// client is gone or too slow to keep up.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type joinRequest struct {
	client      *Client
	displayName string
}

type startRequest struct {
	client     *Client
	orderNames []string
}

type pickRequest struct {
	client   *Client
	itemName string
	slot     int
}

// DraftHub owns one room. Its run goroutine applies events strictly one at
// a time, which is the only thing keeping two picks at the same slot from
// both committing.
type DraftHub struct {
	code    string
	cfg     *Config
	store   *RoomStore
	catalog []Item

	joins  chan joinRequest
	starts chan startRequest
	picks  chan pickRequest
	unreg  chan *Client
	done   chan struct{}

	mu         sync.RWMutex
	session    *Session
	clients    map[*Client]bool
	lastActive time.Time
}

func newDraftHub(cfg *Config, store *RoomStore, catalog []Item, session *Session) *DraftHub {
	return &DraftHub{
		code:       session.Code,
		cfg:        cfg,
		store:      store,
		catalog:    catalog,
		joins:      make(chan joinRequest),
		starts:     make(chan startRequest),
		picks:      make(chan pickRequest),
		unreg:      make(chan *Client),
		done:       make(chan struct{}),
		session:    session,
		clients:    make(map[*Client]bool),
		lastActive: time.Now(),
	}
}

func (h *DraftHub) run() {
	for {
		select {
		case jr := <-h.joins:
			h.handleJoin(jr)
		case sr := <-h.starts:
			h.handleStart(sr)
		case pr := <-h.picks:
			h.handlePick(pr)
		case c := <-h.unreg:
			h.handleUnregister(c)
		case <-h.done:
			return
		}
	}
}

// The enqueue helpers bail out when the hub has been evicted, so a straggler
// readPump never blocks on a dead room.

func (h *DraftHub) enqueueJoin(jr joinRequest) {
	select {
	case h.joins <- jr:
	case <-h.done:
	}
}

func (h *DraftHub) enqueueStart(sr startRequest) {
	select {
	case h.starts <- sr:
	case <-h.done:
	}
}

func (h *DraftHub) enqueuePick(pr pickRequest) {
	select {
	case h.picks <- pr:
	case <-h.done:
	}
}

func (h *DraftHub) dropClient(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// sendLocked delivers to a single client, evicting it if its buffer is full.
func (h *DraftHub) sendLocked(c *Client, msg any) {
	if !c.trySend(msg) {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			c.closeSend()
		}
	}
}

func (h *DraftHub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *DraftHub) rejectJoinLocked(c *Client, reason string) {
	h.sendLocked(c, JoinErrorMessage{
		Type:   "join-error",
		Reason: reason,
	})
	h.sendLocked(c, JoinAckMessage{
		Type:     "join-ack",
		Accepted: false,
		Reason:   reason,
	})
}

func (h *DraftHub) handleJoin(jr joinRequest) {
	c := jr.client

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	next := h.session.clone()
	rejoined, err := next.Join(jr.displayName, c.connID)
	if err != nil {
		logf(h.cfg, "DRAFT: Rejected %q joining %s: %v", jr.displayName, h.code, err)
		h.rejectJoinLocked(c, err.Error())
		return
	}

	if err := h.store.Save(next); err != nil {
		logf(h.cfg, "DRAFT: Failed to persist join of %q to %s: %v", jr.displayName, h.code, err)
		h.rejectJoinLocked(c, "server error during join")
		return
	}
	h.session = next

	h.clients[c] = true

	if rejoined {
		logf(h.cfg, "DRAFT: Manager %q rejoined %s as %s", jr.displayName, h.code, c.connID)
	} else {
		logf(h.cfg, "DRAFT: Manager %q joined %s", jr.displayName, h.code)
	}

	h.broadcastLocked(LobbyUpdateMessage{
		Type:             "lobby-update",
		ParticipantNames: h.session.ParticipantNames(),
	})

	// A mid-draft rejoiner reconstructs its whole view from these two
	// messages instead of relying on broadcast history.
	if h.session.Drafting() {
		h.sendLocked(c, DraftStartedMessage{
			Type:                 "draft-started",
			TurnOrderNames:       h.session.OrderNames,
			TurnOrderConnections: h.session.OrderConns,
			Pool:                 h.session.Pool,
		})
		h.sendLocked(c, DraftUpdateMessage{
			Type:           "draft-update",
			PickSchedule:   h.session.Schedule,
			Pool:           h.session.Pool,
			NextConnection: h.session.NextConnection(),
		})
	}

	h.sendLocked(c, JoinAckMessage{
		Type:     "join-ack",
		Accepted: true,
	})
}

func (h *DraftHub) handleStart(sr startRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	next := h.session.clone()
	if err := next.Start(sr.orderNames, h.catalog); err != nil {
		logf(h.cfg, "DRAFT: Ignored start of %s: %v", h.code, err)
		return
	}

	if err := h.store.Save(next); err != nil {
		logf(h.cfg, "DRAFT: Failed to persist start of %s: %v", h.code, err)
		return
	}
	h.session = next

	logf(h.cfg, "DRAFT: Draft started in %s with %d slots over %d round(s)",
		h.code, len(h.session.OrderNames), h.session.Rounds)

	h.broadcastLocked(DraftStartedMessage{
		Type:                 "draft-started",
		TurnOrderNames:       h.session.OrderNames,
		TurnOrderConnections: h.session.OrderConns,
		Pool:                 h.session.Pool,
	})
}

func (h *DraftHub) handlePick(pr pickRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	next := h.session.clone()
	if err := next.Pick(pr.client.connID, pr.itemName, pr.slot); err != nil {
		logf(h.cfg, "DRAFT: Ignored pick of %q at slot %d in %s: %v", pr.itemName, pr.slot, h.code, err)
		return
	}

	if err := h.store.Save(next); err != nil {
		logf(h.cfg, "DRAFT: Failed to persist pick of %q in %s: %v", pr.itemName, h.code, err)
		return
	}
	h.session = next

	if h.session.Finished() {
		logf(h.cfg, "DRAFT: Draft finished in %s", h.code)
		h.broadcastLocked(DraftFinishedMessage{
			Type:         "draft-finished",
			PickSchedule: h.session.Schedule,
		})
		return
	}

	logf(h.cfg, "DRAFT: %q committed at slot %d in %s", pr.itemName, pr.slot, h.code)

	h.broadcastLocked(DraftUpdateMessage{
		Type:           "draft-update",
		PickSchedule:   h.session.Schedule,
		Pool:           h.session.Pool,
		NextConnection: h.session.NextConnection(),
	})
}

// handleUnregister forgets the connection but never the participant; their
// slots stay claimable through a later rejoin.
func (h *DraftHub) handleUnregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
}

func (h *DraftHub) stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.closeAll()
}

// closeAll disconnects every client of this hub (used by eviction).
func (h *DraftHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.closeSend()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// DraftManager holds the set of live hubs keyed by room code, so operations
// on different rooms never contend while one room stays strictly serial.
type DraftManager struct {
	cfg     *Config
	store   *RoomStore
	catalog []Item

	mu   sync.Mutex
	hubs map[string]*DraftHub
}

func newDraftManager(cfg *Config, store *RoomStore, catalog []Item) *DraftManager {
	dm := &DraftManager{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		hubs:    make(map[string]*DraftHub),
	}
	if cfg.idleTimeout > 0 {
		go dm.reaperLoop()
	}
	return dm
}

// hubFor returns the live hub for code, reviving it from the store when
// needed. With create unset, an unknown room is errRoomNotFound.
func (dm *DraftManager) hubFor(code string, create bool) (*DraftHub, error) {
	code = normalizeCode(code)

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if hub, ok := dm.hubs[code]; ok {
		return hub, nil
	}

	session, err := dm.store.Get(code)
	switch {
	case errors.Is(err, errRoomNotFound):
		if !create {
			return nil, errRoomNotFound
		}
		session = newSession(code)
	case err != nil:
		return nil, err
	}

	hub := newDraftHub(dm.cfg, dm.store, dm.catalog, session)
	dm.hubs[code] = hub
	go hub.run()

	return hub, nil
}

// evict drops the in-memory hub for code, if any, disconnecting its clients.
// The stored session is untouched.
func (dm *DraftManager) evict(code string) bool {
	code = normalizeCode(code)

	dm.mu.Lock()
	hub, ok := dm.hubs[code]
	if ok {
		delete(dm.hubs, code)
	}
	dm.mu.Unlock()

	if ok {
		hub.stop()
	}
	return ok
}

// reaperLoop periodically evicts hubs that have been idle longer than the
// configured timeout.
func (dm *DraftManager) reaperLoop() {
	ticker := time.NewTicker(dm.cfg.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-dm.cfg.idleTimeout)

		dm.mu.Lock()
		for code, hub := range dm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(dm.hubs, code)
				go hub.stop()
				logf(dm.cfg, "DRAFT: Evicted idle room %s", code)
			}
		}
		dm.mu.Unlock()
	}
}

func newUpgrader(cfg *Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.origins) == 0 {
				return true
			}
			return slices.Contains(cfg.origins, r.Header.Get("Origin"))
		},
	}
}

// serveWS upgrades the connection, assigns it a connection id, and feeds
// inbound events to the hub named by each event's room code.
func serveWS(cfg *Config, dm *DraftManager) httprouter.Handle {
	upgrader := newUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "DRAFT: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := newClient(conn)
		logf(cfg, "DRAFT: Connection %s opened from %s", client.connID, realIP(r))

		client.trySend(SessionInfoMessage{
			Type:         "session-info",
			ConnectionID: client.connID,
		})

		go client.writePump()
		client.readPump(cfg, dm)

		logf(cfg, "DRAFT: Connection %s closed", client.connID)
	}
}

func (c *Client) readPump(cfg *Config, dm *DraftManager) {
	defer func() {
		if c.hub != nil {
			c.hub.dropClient(c)
		}
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "join-room":
			var p joinPayload
			if err := json.Unmarshal(data, &p); err != nil || validate.Struct(&p) != nil {
				c.trySend(JoinAckMessage{
					Type:     "join-ack",
					Accepted: false,
					Reason:   "invalid join request",
				})
				continue
			}

			hub, err := dm.hubFor(p.Code, true)
			if err != nil {
				logf(cfg, "DRAFT: Failed to open room %s: %v", p.Code, err)
				c.trySend(JoinAckMessage{
					Type:     "join-ack",
					Accepted: false,
					Reason:   "server error during join",
				})
				continue
			}

			c.hub = hub
			hub.enqueueJoin(joinRequest{
				client:      c,
				displayName: p.DisplayName,
			})

		case "start-draft":
			var p startPayload
			if err := json.Unmarshal(data, &p); err != nil || validate.Struct(&p) != nil {
				continue
			}

			hub, err := dm.hubFor(p.Code, false)
			if err != nil {
				logf(cfg, "DRAFT: Ignored start for unknown room %s", p.Code)
				continue
			}
			hub.enqueueStart(startRequest{
				client:     c,
				orderNames: p.TurnOrderNames,
			})

		case "make-pick":
			var p pickPayload
			if err := json.Unmarshal(data, &p); err != nil || validate.Struct(&p) != nil {
				continue
			}

			hub, err := dm.hubFor(p.Code, false)
			if err != nil {
				continue
			}
			hub.enqueuePick(pickRequest{
				client:   c,
				itemName: p.ItemName,
				slot:     *p.SlotIndex,
			})

		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
