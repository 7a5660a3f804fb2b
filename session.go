package main

// A Session is one draft room. Participants join a lobby under a display
// name, a caller fixes the full turn order, and picks are committed one
// schedule slot at a time until every slot is filled.
//
// Display names are the stable identity across reconnects; connection IDs
// are volatile and rebound on every rejoin. All mutation goes through Join,
// Start and Pick, and callers are expected to serialize those per room.

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Participant struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Pick is one committed schedule slot. The full item record is embedded so
// finished rooms never depend on the catalog the process happens to carry.
type Pick struct {
	Item         Item   `json:"item"`
	ConnectionID string `json:"connectionId"`
}

type Session struct {
	Code         string        `json:"code"`
	Participants []Participant `json:"participants"`
	OrderNames   []string      `json:"turnOrderNames"`
	OrderConns   []string      `json:"turnOrderConnections"`
	Schedule     []*Pick       `json:"pickSchedule"`
	Pool         []Item        `json:"pool"`
	Rounds       int           `json:"roundCount"`
	Started      bool          `json:"started"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

// normalizeCode maps user-supplied room codes onto the store key.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newSession(code string) *Session {
	return &Session{
		Code: normalizeCode(code),
	}
}

func (s *Session) Finished() bool {
	return s.FinishedAt != nil
}

func (s *Session) Drafting() bool {
	return s.Started && s.FinishedAt == nil
}

func (s *Session) ParticipantNames() []string {
	return lo.Map(s.Participants, func(p Participant, _ int) string {
		return p.DisplayName
	})
}

// NextSlot returns the index of the first open schedule slot, or -1 when
// every slot is committed.
func (s *Session) NextSlot() int {
	return slices.IndexFunc(s.Schedule, func(p *Pick) bool {
		return p == nil
	})
}

// NextConnection returns the connection due to pick next, or "" when the
// draft is not in progress.
func (s *Session) NextConnection() string {
	slot := s.NextSlot()
	if !s.Drafting() || slot < 0 {
		return ""
	}
	return s.OrderConns[slot]
}

// Join adds a new participant before the draft starts, or rebinds an
// existing one to a fresh connection once it has. Returns whether this was
// a rebind of a known name.
func (s *Session) Join(displayName, connID string) (bool, error) {
	if s.Finished() {
		return false, errDraftFinished
	}

	_, idx, present := lo.FindIndexOf(s.Participants, func(p Participant) bool {
		return p.DisplayName == displayName
	})

	if !s.Started {
		if present {
			return false, errNameTaken
		}
		s.Participants = append(s.Participants, Participant{
			ConnectionID: connID,
			DisplayName:  displayName,
		})
		return false, nil
	}

	// Once the order is fixed, the name set is closed; a known name
	// reconnecting under a new transport identity takes over its old
	// slots wholesale.
	if !present {
		return false, errUnknownName
	}

	old := s.Participants[idx].ConnectionID
	s.Participants[idx].ConnectionID = connID
	for i, id := range s.OrderConns {
		if id == old {
			s.OrderConns[i] = connID
		}
	}

	return true, nil
}

// Start freezes the turn order and seeds the schedule and pool. orderNames
// is the full flat assignment, participant count times rounds long.
func (s *Session) Start(orderNames []string, catalog []Item) error {
	switch {
	case s.Finished():
		return errDraftFinished
	case s.Started:
		return errAlreadyStarted
	case len(s.Participants) == 0:
		return errNoParticipants
	case len(orderNames) == 0 || len(orderNames)%len(s.Participants) != 0:
		return errOrderUneven
	}

	conns := make([]string, len(orderNames))
	for i, name := range orderNames {
		p, _, ok := lo.FindIndexOf(s.Participants, func(p Participant) bool {
			return p.DisplayName == name
		})
		if !ok {
			return errOrderUnknown
		}
		conns[i] = p.ConnectionID
	}

	s.OrderNames = slices.Clone(orderNames)
	s.OrderConns = conns
	s.Rounds = len(orderNames) / len(s.Participants)
	s.Pool = slices.Clone(catalog)
	s.Schedule = make([]*Pick, len(orderNames))
	s.Started = true

	return nil
}

// Pick commits itemName into the given slot for connID and removes the item
// from the pool. Every returned error is an expected stale-race condition
// the caller may silently drop; a nil return means the commit applied.
func (s *Session) Pick(connID, itemName string, slot int) error {
	switch {
	case !s.Drafting():
		return errNotDrafting
	case slot < 0 || slot >= len(s.Schedule):
		return errSlotBounds
	case s.Schedule[slot] != nil:
		return errSlotFilled
	case s.OrderConns[slot] != connID:
		return errNotYourSlot
	}

	item, idx, ok := lo.FindIndexOf(s.Pool, func(i Item) bool {
		return i.Name == itemName
	})
	if !ok {
		return errItemGone
	}

	s.Schedule[slot] = &Pick{
		Item:         item,
		ConnectionID: connID,
	}
	s.Pool = slices.Delete(s.Pool, idx, idx+1)

	if lo.EveryBy(s.Schedule, func(p *Pick) bool { return p != nil }) {
		now := time.Now().UTC()
		s.FinishedAt = &now
	}

	return nil
}

// clone returns a copy safe to mutate and throw away, so transitions can be
// persisted before they become visible. Items are immutable and stay shared.
func (s *Session) clone() *Session {
	c := *s
	c.Participants = slices.Clone(s.Participants)
	c.OrderNames = slices.Clone(s.OrderNames)
	c.OrderConns = slices.Clone(s.OrderConns)
	c.Schedule = slices.Clone(s.Schedule)
	c.Pool = slices.Clone(s.Pool)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
