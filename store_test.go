package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		store:       filepath.Join(t.TempDir(), "rooms.db"),
		retention:   24 * time.Hour,
		idleTimeout: 0,
	}
}

func testStore(t *testing.T) *RoomStore {
	t.Helper()

	store, err := openRoomStore(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreRoundTrip(t *testing.T) {
	req := require.New(t)
	store := testStore(t)

	s := startedSession(t, 12)
	req.NoError(s.Pick("conn-a", "Item1", 0))
	req.NoError(store.Save(s))

	loaded, err := store.Get("xyz") // codes are case-insensitive
	req.NoError(err)

	req.Equal(s.Code, loaded.Code)
	req.Equal(s.Participants, loaded.Participants)
	req.Equal(s.OrderNames, loaded.OrderNames)
	req.Equal(s.OrderConns, loaded.OrderConns)
	req.Equal(s.Rounds, loaded.Rounds)
	req.True(loaded.Started)
	req.Len(loaded.Pool, 11)
	req.NotNil(loaded.Schedule[0])
	req.Equal("Item1", loaded.Schedule[0].Item.Name)
	req.Nil(loaded.Schedule[1])
}

func TestStoreGetUnknown(t *testing.T) {
	req := require.New(t)
	store := testStore(t)

	_, err := store.Get("NOPE")
	req.ErrorIs(err, errRoomNotFound)
}

func TestStoreSaveOverwrites(t *testing.T) {
	req := require.New(t)
	store := testStore(t)

	s := newSession("XYZ")
	_, err := s.Join("Alice", "conn-1")
	req.NoError(err)
	req.NoError(store.Save(s))

	_, err = s.Join("Bob", "conn-2")
	req.NoError(err)
	req.NoError(store.Save(s))

	loaded, err := store.Get("XYZ")
	req.NoError(err)
	req.Equal([]string{"Alice", "Bob"}, loaded.ParticipantNames())
}

func TestStoreDelete(t *testing.T) {
	req := require.New(t)
	store := testStore(t)

	req.NoError(store.Save(newSession("XYZ")))

	found, err := store.Delete("xyz")
	req.NoError(err)
	req.True(found)

	// Deleting an absent key reports not-found, not failure.
	found, err = store.Delete("XYZ")
	req.NoError(err)
	req.False(found)

	_, err = store.Get("XYZ")
	req.ErrorIs(err, errRoomNotFound)
}

func TestStoreReapsExpiredRooms(t *testing.T) {
	req := require.New(t)
	store := testStore(t)

	stale := newSession("OLD")
	staleTime := time.Now().UTC().Add(-48 * time.Hour)
	stale.Started = true
	stale.FinishedAt = &staleTime
	req.NoError(store.Save(stale))

	fresh := newSession("NEW")
	freshTime := time.Now().UTC().Add(-time.Hour)
	fresh.Started = true
	fresh.FinishedAt = &freshTime
	req.NoError(store.Save(fresh))

	open := newSession("OPEN")
	req.NoError(store.Save(open))

	count, err := store.reapExpired()
	req.NoError(err)
	req.EqualValues(1, count)

	_, err = store.Get("OLD")
	req.ErrorIs(err, errRoomNotFound)

	// Recently finished and unfinished rooms both survive, however old.
	_, err = store.Get("NEW")
	req.NoError(err)
	_, err = store.Get("OPEN")
	req.NoError(err)
}
