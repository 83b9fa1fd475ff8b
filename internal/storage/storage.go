package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pollrooms/internal/models"
)

type dataset struct {
	Polls map[string]models.Poll `json:"polls"`
	Votes []models.Vote          `json:"votes"`
}

func newDataset() dataset {
	return dataset{
		Polls: make(map[string]models.Poll),
		Votes: make([]models.Vote, 0),
	}
}

// Storage is the JSON-file-backed poll store. A single mutex serializes every
// mutation together with its durable write, so all CreatePoll/CastVote calls
// execute in submission order across the entire store and the state file
// always reflects the last committed mutation.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStorage opens the store backed by the JSON document at path. A missing
// or empty file yields an empty state that is written out immediately; an
// unparseable file is preserved under a timestamped backup name and the store
// starts empty rather than refusing to boot.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return s.persistDataset(s.data)
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}

	decoder := json.NewDecoder(file)
	decodeErr := decoder.Decode(&s.data)
	file.Close()
	if decodeErr != nil {
		if errors.Is(decodeErr, io.EOF) {
			s.data = newDataset()
			return s.persistDataset(s.data)
		}
		if err := s.quarantineCorrupt(); err != nil {
			return err
		}
		s.data = newDataset()
		return s.persistDataset(s.data)
	}

	if s.data.Polls == nil {
		s.data.Polls = make(map[string]models.Poll)
	}
	if s.data.Votes == nil {
		s.data.Votes = make([]models.Vote, 0)
	}
	return nil
}

// quarantineCorrupt moves an unparseable state file aside so operators can
// inspect it while the store boots from an empty state.
func (s *Storage) quarantineCorrupt() error {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(s.now().Format(time.RFC3339Nano))
	backupPath := fmt.Sprintf("%s.corrupt-%s", s.filePath, stamp)
	if err := os.Rename(s.filePath, backupPath); err != nil {
		return fmt.Errorf("quarantine corrupt store file: %w", err)
	}
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "polls-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, poll := range src.Polls {
		cloned := poll
		cloned.Options = append([]models.Option(nil), poll.Options...)
		clone.Polls[id] = cloned
	}
	clone.Votes = append(clone.Votes, src.Votes...)
	return clone
}

// Ping reports storage availability. The JSON store is always reachable once
// constructed.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases store resources. The JSON store holds no open handles
// between operations.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

// CreatePoll constructs a poll with fresh identifiers and zero counts. The
// caller is responsible for having validated and normalized the question and
// option texts beforehand.
func (s *Storage) CreatePoll(question string, optionTexts []string) (models.PollSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID, err := generatePollID()
	if err != nil {
		return models.PollSnapshot{}, err
	}

	options := make([]models.Option, 0, len(optionTexts))
	for _, text := range optionTexts {
		optionID, err := generateOptionID()
		if err != nil {
			return models.PollSnapshot{}, err
		}
		options = append(options, models.Option{ID: optionID, Text: text})
	}

	now := s.now()
	poll := models.Poll{
		ID:        pollID,
		Question:  question,
		Options:   options,
		CreatedAt: now,
		UpdatedAt: now,
	}

	updatedData := cloneDataset(s.data)
	updatedData.Polls[pollID] = poll
	if err := s.persistDataset(updatedData); err != nil {
		return models.PollSnapshot{}, err
	}
	s.data = updatedData

	return snapshotPoll(poll), nil
}

// GetPoll returns the public snapshot of a poll.
func (s *Storage) GetPoll(id string) (models.PollSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	poll, ok := s.data.Polls[id]
	if !ok {
		return models.PollSnapshot{}, false
	}
	return snapshotPoll(poll), true
}

// VoteState scans existing votes for either identity hash. A token match
// takes precedence over a fingerprint match because the sticky browser token
// is the stronger signal.
func (s *Storage) VoteState(pollID, tokenHash, fingerprintHash string) models.VoteState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokenMatch, fingerprintMatch *models.Vote
	for i := range s.data.Votes {
		vote := &s.data.Votes[i]
		if vote.PollID != pollID {
			continue
		}
		if tokenMatch == nil && vote.VoterTokenHash == tokenHash {
			tokenMatch = vote
		}
		if fingerprintMatch == nil && vote.FingerprintHash == fingerprintHash {
			fingerprintMatch = vote
		}
		if tokenMatch != nil && fingerprintMatch != nil {
			break
		}
	}

	if tokenMatch != nil {
		return models.VoteState{HasVoted: true, OptionID: tokenMatch.OptionID, Via: "token"}
	}
	if fingerprintMatch != nil {
		return models.VoteState{HasVoted: true, OptionID: fingerprintMatch.OptionID, Via: "fingerprint"}
	}
	return models.VoteState{}
}

// CastVote appends a ballot and updates the tallies as a single atomic unit.
// The in-memory state is only committed after the durable write succeeds, so
// a persistence failure leaves the store on its previous committed state. The
// error return is reserved for persistence failures; every domain outcome is
// reported through the VoteResult code.
func (s *Storage) CastVote(params CastVoteParams) (VoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.data.Polls[params.PollID]
	if !ok {
		return VoteResult{Code: RejectPollNotFound}, nil
	}

	optionIndex := -1
	for i, option := range poll.Options {
		if option.ID == params.OptionID {
			optionIndex = i
			break
		}
	}
	if optionIndex < 0 {
		return VoteResult{Code: RejectInvalidOption}, nil
	}

	// Token before fingerprint: a browser-identity conflict is reported even
	// when a fingerprint collision also exists.
	for _, vote := range s.data.Votes {
		if vote.PollID == params.PollID && vote.VoterTokenHash == params.VoterTokenHash {
			return VoteResult{Code: RejectAlreadyVotedToken, VotedOptionID: vote.OptionID}, nil
		}
	}
	for _, vote := range s.data.Votes {
		if vote.PollID == params.PollID && vote.FingerprintHash == params.FingerprintHash {
			return VoteResult{Code: RejectAlreadyVotedFingerprint, VotedOptionID: vote.OptionID}, nil
		}
	}

	voteID, err := generateVoteID()
	if err != nil {
		return VoteResult{}, err
	}

	now := s.now()
	updatedData := cloneDataset(s.data)
	updatedPoll := updatedData.Polls[params.PollID]
	updatedPoll.Options[optionIndex].VoteCount++
	updatedPoll.TotalVotes++
	updatedPoll.UpdatedAt = now
	updatedData.Polls[params.PollID] = updatedPoll
	updatedData.Votes = append(updatedData.Votes, models.Vote{
		ID:              voteID,
		PollID:          params.PollID,
		OptionID:        params.OptionID,
		VoterTokenHash:  params.VoterTokenHash,
		FingerprintHash: params.FingerprintHash,
		VotedAt:         now,
	})

	if err := s.persistDataset(updatedData); err != nil {
		return VoteResult{}, err
	}
	s.data = updatedData

	return VoteResult{Accepted: true, Poll: snapshotPoll(updatedPoll)}, nil
}

// CountVotes reports the number of recorded ballots for a poll.
func (s *Storage) CountVotes(pollID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, vote := range s.data.Votes {
		if vote.PollID == pollID {
			count++
		}
	}
	return count
}

func snapshotPoll(poll models.Poll) models.PollSnapshot {
	options := make([]models.OptionSnapshot, 0, len(poll.Options))
	for _, option := range poll.Options {
		options = append(options, models.OptionSnapshot{
			ID:      option.ID,
			Text:    option.Text,
			Votes:   option.VoteCount,
			Percent: percent(option.VoteCount, poll.TotalVotes),
		})
	}
	return models.PollSnapshot{
		ID:         poll.ID,
		Question:   poll.Question,
		Options:    options,
		TotalVotes: poll.TotalVotes,
		CreatedAt:  poll.CreatedAt,
		UpdatedAt:  poll.UpdatedAt,
	}
}

func percent(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(votes)/float64(total)*1000) / 10
}
