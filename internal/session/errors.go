/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import "errors"

var (
	// ErrNoCurrentTrack indicates an operation that needs an active track
	// was called while the session is idle.
	ErrNoCurrentTrack = errors.New("no track is currently playing")

	// ErrNoHistory indicates there is no previously played track to return to.
	ErrNoHistory = errors.New("no previous track in history")

	// ErrSessionClosed indicates the session has been torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrNothingToPlay indicates an enqueue call carried no entries.
	ErrNothingToPlay = errors.New("nothing to play")
)

// NodeCommandError wraps a failed command to the render node. Local state
// is already committed when the send fails; the session stays in Playing
// pointing at a track the node may not be rendering, pending a
// reconciliation event or a manual stop.
type NodeCommandError struct {
	Op  string
	Err error
}

func (e *NodeCommandError) Error() string {
	return "node command " + e.Op + ": " + e.Err.Error()
}

func (e *NodeCommandError) Unwrap() error {
	return e.Err
}
