package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pollrooms/internal/models"
)

const postgresOperationTimeout = 5 * time.Second

// postgresRepository implements Repository on a pgx connection pool.
// CastVote runs inside a transaction that locks the poll row, so per-poll
// tallies and the unique vote indexes stay consistent under concurrent
// writers across multiple processes.
type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migrations before returning.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{
		pool: pool,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresOperationTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreatePoll(question string, optionTexts []string) (models.PollSnapshot, error) {
	ctx, cancel := r.operationContext()
	defer cancel()

	pollID, err := generatePollID()
	if err != nil {
		return models.PollSnapshot{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.PollSnapshot{}, fmt.Errorf("begin create poll: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.now()
	if _, err := tx.Exec(ctx,
		`INSERT INTO polls (id, question, total_votes, created_at, updated_at) VALUES ($1, $2, 0, $3, $3)`,
		pollID, question, now,
	); err != nil {
		return models.PollSnapshot{}, fmt.Errorf("insert poll: %w", err)
	}

	poll := models.Poll{ID: pollID, Question: question, CreatedAt: now, UpdatedAt: now}
	for position, text := range optionTexts {
		optionID, err := generateOptionID()
		if err != nil {
			return models.PollSnapshot{}, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO poll_options (id, poll_id, text, vote_count, position) VALUES ($1, $2, $3, 0, $4)`,
			optionID, pollID, text, position,
		); err != nil {
			return models.PollSnapshot{}, fmt.Errorf("insert poll option: %w", err)
		}
		poll.Options = append(poll.Options, models.Option{ID: optionID, Text: text})
	}

	if err := tx.Commit(ctx); err != nil {
		return models.PollSnapshot{}, fmt.Errorf("commit create poll: %w", err)
	}
	return snapshotPoll(poll), nil
}

func (r *postgresRepository) GetPoll(id string) (models.PollSnapshot, bool) {
	ctx, cancel := r.operationContext()
	defer cancel()

	poll, err := r.fetchPoll(ctx, r.pool, id, false)
	if err != nil {
		return models.PollSnapshot{}, false
	}
	return snapshotPoll(poll), true
}

// pgQuerier is satisfied by both the pool and an open transaction.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *postgresRepository) fetchPoll(ctx context.Context, q pgQuerier, id string, forUpdate bool) (models.Poll, error) {
	pollQuery := `SELECT id, question, total_votes, created_at, updated_at FROM polls WHERE id = $1`
	if forUpdate {
		pollQuery += ` FOR UPDATE`
	}

	var poll models.Poll
	if err := q.QueryRow(ctx, pollQuery, id).Scan(
		&poll.ID, &poll.Question, &poll.TotalVotes, &poll.CreatedAt, &poll.UpdatedAt,
	); err != nil {
		return models.Poll{}, fmt.Errorf("select poll: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, text, vote_count FROM poll_options WHERE poll_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return models.Poll{}, fmt.Errorf("select poll options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var option models.Option
		if err := rows.Scan(&option.ID, &option.Text, &option.VoteCount); err != nil {
			return models.Poll{}, fmt.Errorf("scan poll option: %w", err)
		}
		poll.Options = append(poll.Options, option)
	}
	if err := rows.Err(); err != nil {
		return models.Poll{}, fmt.Errorf("iterate poll options: %w", err)
	}
	return poll, nil
}

func (r *postgresRepository) VoteState(pollID, tokenHash, fingerprintHash string) models.VoteState {
	ctx, cancel := r.operationContext()
	defer cancel()

	var optionID string
	err := r.pool.QueryRow(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND voter_token_hash = $2`,
		pollID, tokenHash,
	).Scan(&optionID)
	if err == nil {
		return models.VoteState{HasVoted: true, OptionID: optionID, Via: "token"}
	}

	err = r.pool.QueryRow(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND fingerprint_hash = $2`,
		pollID, fingerprintHash,
	).Scan(&optionID)
	if err == nil {
		return models.VoteState{HasVoted: true, OptionID: optionID, Via: "fingerprint"}
	}
	return models.VoteState{}
}

func (r *postgresRepository) CastVote(params CastVoteParams) (VoteResult, error) {
	ctx, cancel := r.operationContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return VoteResult{}, fmt.Errorf("begin cast vote: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	poll, err := r.fetchPoll(ctx, tx, params.PollID, true)
	if errors.Is(err, pgx.ErrNoRows) {
		return VoteResult{Code: RejectPollNotFound}, nil
	} else if err != nil {
		return VoteResult{}, err
	}

	optionValid := false
	for _, option := range poll.Options {
		if option.ID == params.OptionID {
			optionValid = true
			break
		}
	}
	if !optionValid {
		return VoteResult{Code: RejectInvalidOption}, nil
	}

	var existingOptionID string
	err = tx.QueryRow(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND voter_token_hash = $2`,
		params.PollID, params.VoterTokenHash,
	).Scan(&existingOptionID)
	if err == nil {
		return VoteResult{Code: RejectAlreadyVotedToken, VotedOptionID: existingOptionID}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return VoteResult{}, fmt.Errorf("select token vote: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT option_id FROM votes WHERE poll_id = $1 AND fingerprint_hash = $2`,
		params.PollID, params.FingerprintHash,
	).Scan(&existingOptionID)
	if err == nil {
		return VoteResult{Code: RejectAlreadyVotedFingerprint, VotedOptionID: existingOptionID}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return VoteResult{}, fmt.Errorf("select fingerprint vote: %w", err)
	}

	voteID, err := generateVoteID()
	if err != nil {
		return VoteResult{}, err
	}

	now := r.now()
	if _, err := tx.Exec(ctx,
		`INSERT INTO votes (id, poll_id, option_id, voter_token_hash, fingerprint_hash, voted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		voteID, params.PollID, params.OptionID, params.VoterTokenHash, params.FingerprintHash, now,
	); err != nil {
		return VoteResult{}, fmt.Errorf("insert vote: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE poll_options SET vote_count = vote_count + 1 WHERE id = $1`,
		params.OptionID,
	); err != nil {
		return VoteResult{}, fmt.Errorf("update option tally: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE polls SET total_votes = total_votes + 1, updated_at = $2 WHERE id = $1`,
		params.PollID, now,
	); err != nil {
		return VoteResult{}, fmt.Errorf("update poll tally: %w", err)
	}

	updated, err := r.fetchPoll(ctx, tx, params.PollID, false)
	if err != nil {
		return VoteResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return VoteResult{}, fmt.Errorf("commit cast vote: %w", err)
	}
	return VoteResult{Accepted: true, Poll: snapshotPoll(updated)}, nil
}

func (r *postgresRepository) CountVotes(pollID string) int {
	ctx, cancel := r.operationContext()
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM votes WHERE poll_id = $1`, pollID,
	).Scan(&count); err != nil {
		return 0
	}
	return count
}
