// Package hub maintains per-poll viewer rooms over WebSocket and fans poll
// updates out to them.
package hub

import (
	"time"

	"pollrooms/internal/models"
)

// Event types carried by the queue and delivered to clients.
const (
	EventPollUpdate     = "poll_update"
	EventPresenceUpdate = "presence_update"
)

// Event is a realtime notification scoped to one poll. Poll updates originate
// from the vote handler and travel through the queue; presence updates are
// synthesized by the hub itself on membership changes.
type Event struct {
	Type             string               `json:"type"`
	PollID           string               `json:"pollId,omitempty"`
	Poll             *models.PollSnapshot `json:"poll,omitempty"`
	LastVoteOptionID string               `json:"lastVoteOptionId,omitempty"`
	ViewerCount      int                  `json:"viewerCount,omitempty"`
	UpdatedAt        time.Time            `json:"updatedAt,omitempty"`
}
