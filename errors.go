/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Rejections reported back to the offending client.
var (
	errDraftFinished = errors.New("this draft has finished")
	errNameTaken     = errors.New("display name already taken in this room")
	errUnknownName   = errors.New("draft in progress; only existing managers may rejoin")
)

// Contract violations on start, logged but never user-facing.
var (
	errAlreadyStarted = errors.New("draft already started")
	errNoParticipants = errors.New("no participants in room")
	errOrderUnknown   = errors.New("turn order contains a name not in the room")
	errOrderUneven    = errors.New("turn order length is not a multiple of the participant count")
)

// Stale-race conditions on picks, silently dropped.
var (
	errNotDrafting = errors.New("room is not drafting")
	errSlotBounds  = errors.New("slot index out of range")
	errSlotFilled  = errors.New("slot already committed")
	errNotYourSlot = errors.New("connection does not own this slot")
	errItemGone    = errors.New("item is no longer in the pool")
)

var errRoomNotFound = errors.New("room not found")

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head><style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
