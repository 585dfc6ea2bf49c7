/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package node

// EventType enumerates asynchronous node event categories.
type EventType string

const (
	EventTrackStart     EventType = "trackStart"
	EventTrackEnd       EventType = "trackEnd"
	EventTrackStuck     EventType = "trackStuck"
	EventTrackException EventType = "trackException"
	EventPlayerUpdate   EventType = "playerUpdate"
)

// Event is one asynchronous notification pushed by the render node.
// SessionKey identifies the logical player the event belongs to; Nonce
// echoes the play command that started the playback the event refers to.
// Delivery is not exactly-once, so consumers must tolerate duplicates
// and gaps.
type Event struct {
	Type        EventType `json:"type"`
	SessionKey  string    `json:"session"`
	TrackID     string    `json:"track_id,omitempty"`
	Nonce       uint64    `json:"nonce,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ThresholdMS int64     `json:"threshold_ms,omitempty"`
	PositionMS  int64     `json:"position_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}
