package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Integration tests run only when a database is provided:
//
//	POLLROOMS_TEST_POSTGRES_DSN=postgres://... go test ./internal/storage -run Postgres
func newIntegrationRepository(t *testing.T) Repository {
	t.Helper()
	dsn := os.Getenv("POLLROOMS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLLROOMS_TEST_POSTGRES_DSN not set")
	}
	repo, err := NewPostgresRepository(dsn, WithApplicationName("pollrooms-test"))
	if err != nil {
		t.Fatalf("NewPostgresRepository: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = repo.Close(ctx)
	})
	return repo
}

func TestPostgresVoteLifecycle(t *testing.T) {
	repo := newIntegrationRepository(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	poll, err := repo.CreatePoll("Integration?", []string{"Yes", "No"})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if len(poll.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(poll.Options))
	}

	token := fmt.Sprintf("tok-%d", time.Now().UnixNano())
	fingerprint := fmt.Sprintf("fp-%d", time.Now().UnixNano())

	result, err := repo.CastVote(CastVoteParams{PollID: poll.ID, OptionID: poll.Options[0].ID, VoterTokenHash: token, FingerprintHash: fingerprint})
	if err != nil || !result.Accepted {
		t.Fatalf("first vote: %+v err=%v", result, err)
	}
	if result.Poll.TotalVotes != 1 || result.Poll.Options[0].Votes != 1 {
		t.Fatalf("tallies wrong: %+v", result.Poll)
	}

	dup, err := repo.CastVote(CastVoteParams{PollID: poll.ID, OptionID: poll.Options[1].ID, VoterTokenHash: token, FingerprintHash: "other"})
	if err != nil || dup.Code != RejectAlreadyVotedToken || dup.VotedOptionID != poll.Options[0].ID {
		t.Fatalf("expected token conflict: %+v err=%v", dup, err)
	}

	state := repo.VoteState(poll.ID, token, "unrelated")
	if !state.HasVoted || state.Via != "token" {
		t.Fatalf("expected token vote state, got %+v", state)
	}
	if repo.CountVotes(poll.ID) != 1 {
		t.Fatalf("expected one ballot, got %d", repo.CountVotes(poll.ID))
	}
}
