package storage

import (
	"context"

	"pollrooms/internal/models"
)

// RejectionCode classifies why a ballot was refused. Rejections are expected
// domain outcomes, not errors.
type RejectionCode string

const (
	RejectPollNotFound            RejectionCode = "poll_not_found"
	RejectInvalidOption           RejectionCode = "invalid_option"
	RejectAlreadyVotedToken       RejectionCode = "already_voted_token"
	RejectAlreadyVotedFingerprint RejectionCode = "already_voted_fingerprint"
)

// CastVoteParams carries the identifiers and hashed voter identities for a
// single ballot.
type CastVoteParams struct {
	PollID          string
	OptionID        string
	VoterTokenHash  string
	FingerprintHash string
}

// VoteResult reports the outcome of CastVote. On success Accepted is true and
// Poll holds the post-vote snapshot; on a duplicate-identity rejection
// VotedOptionID carries the previously recorded choice so clients can
// reconcile their view.
type VoteResult struct {
	Accepted      bool
	Code          RejectionCode
	VotedOptionID string
	Poll          models.PollSnapshot
}

// Repository exposes the poll store operations required by the API handlers.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreatePoll(question string, optionTexts []string) (models.PollSnapshot, error)
	GetPoll(id string) (models.PollSnapshot, bool)
	VoteState(pollID, tokenHash, fingerprintHash string) models.VoteState
	CastVote(params CastVoteParams) (VoteResult, error)
	CountVotes(pollID string) int
}

var _ Repository = (*Storage)(nil)
