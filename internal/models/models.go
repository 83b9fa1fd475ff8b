// Package models defines the poll entities shared across the service.
package models

import "time"

// Poll is the internal representation owned by the poll store. Option order
// is creation order and is never rearranged afterwards.
type Poll struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Options    []Option  `json:"options"`
	TotalVotes int       `json:"totalVotes"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Option carries the running tally for a single answer.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"voteCount"`
}

// Vote is an append-only ballot record. Votes are never edited or deleted;
// per-poll uniqueness of VoterTokenHash and of FingerprintHash is the
// system's core correctness guarantee.
type Vote struct {
	ID              string    `json:"id"`
	PollID          string    `json:"pollId"`
	OptionID        string    `json:"optionId"`
	VoterTokenHash  string    `json:"voterTokenHash"`
	FingerprintHash string    `json:"fingerprintHash"`
	VotedAt         time.Time `json:"votedAt"`
}

// PollSnapshot is the read-only public view of a poll, with percentages
// derived from the internal counts at snapshot time.
type PollSnapshot struct {
	ID         string           `json:"id"`
	Question   string           `json:"question"`
	Options    []OptionSnapshot `json:"options"`
	TotalVotes int              `json:"totalVotes"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// OptionSnapshot reports one option's tally. Percent is votes/totalVotes*100
// rounded to one decimal place, or 0 when the poll has no votes yet.
type OptionSnapshot struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Votes   int     `json:"votes"`
	Percent float64 `json:"percent"`
}

// VoteState reports whether a voter identity already cast a ballot in a
// poll. Via is "token" when the sticky browser token matched and
// "fingerprint" when only the network fingerprint did; the token signal wins
// when both match.
type VoteState struct {
	HasVoted bool   `json:"hasVoted"`
	OptionID string `json:"optionId,omitempty"`
	Via      string `json:"via,omitempty"`
}
