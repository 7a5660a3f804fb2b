package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// RoomView is the REST projection of a stored session.
type RoomView struct {
	ParticipantNames []string `json:"participantNames"`
	Started          bool     `json:"started"`
	TurnOrderNames   []string `json:"turnOrderNames"`
	PickSchedule     []*Pick  `json:"pickSchedule"`
	Pool             []Item   `json:"pool"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// serveRoom reads the durable session, never the in-memory hub; saves land
// in the store before any broadcast, so this view is always current.
func serveRoom(cfg *Config, store *RoomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		code := p.ByName("code")

		session, err := store.Get(code)
		if errors.Is(err, errRoomNotFound) {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}
		if err != nil {
			logf(cfg, "ROOMS: Failed to read room %s: %v", code, err)
			writeJSON(cfg, w, http.StatusInternalServerError, map[string]string{"error": "Server error"})
			return
		}

		writeJSON(cfg, w, http.StatusOK, RoomView{
			ParticipantNames: session.ParticipantNames(),
			Started:          session.Started,
			TurnOrderNames:   session.OrderNames,
			PickSchedule:     session.Schedule,
			Pool:             session.Pool,
		})

		logf(cfg, "ROOMS: Served room %s to %s in %s",
			session.Code,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func deleteRoom(cfg *Config, dm *DraftManager, store *RoomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		code := p.ByName("code")

		// Drop the live hub first so no client writes the row back
		// between the delete and the response.
		dm.evict(code)

		found, err := store.Delete(code)
		if err != nil {
			logf(cfg, "ROOMS: Failed to delete room %s: %v", code, err)
			writeJSON(cfg, w, http.StatusInternalServerError, map[string]string{"error": "Server error"})
			return
		}
		if !found {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}

		logf(cfg, "ROOMS: Deleted room %s for %s", normalizeCode(code), realIP(r))
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"success": true})
	}
}

// qrHandler generates a PNG QR code for the current room URL.
func qrHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	code := p.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
