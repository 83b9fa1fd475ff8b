package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pollrooms/internal/hub"
	"pollrooms/internal/identity"
	"pollrooms/internal/models"
	"pollrooms/internal/observability/logging"
	"pollrooms/internal/observability/metrics"
	"pollrooms/internal/ratelimit"
	"pollrooms/internal/storage"
)

// Handler hosts the poll API endpoints. All dependencies are injected; the
// zero value is not usable.
type Handler struct {
	Store       storage.Repository
	Queue       hub.Queue
	Hasher      identity.Hasher
	VoteLimiter ratelimit.Limiter
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	base := h.Logger
	if base == nil {
		base = slog.Default()
	}
	return logging.WithContext(r.Context(), base)
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// Health reports process liveness and storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			h.logger(r).Warn("storage ping failed", "error", err)
		}
	}
	writeJSON(w, httpStatus, map[string]string{"status": status})
}

type createPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Polls handles the poll collection endpoint.
func (h *Handler) Polls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	VoterToken(w, r)

	var req createPollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	payload, details := ValidateCreatePoll(req.Question, req.Options)
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid poll payload.",
			"details": details,
		})
		return
	}

	poll, err := h.Store.CreatePoll(payload.Question, payload.Options)
	if err != nil {
		h.logger(r).Error("create poll failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create poll.")
		return
	}

	h.metrics().PollCreated()
	h.logger(r).Info("poll created", "poll_id", poll.ID, "options", len(poll.Options))
	writeJSON(w, http.StatusCreated, map[string]any{
		"poll":     poll,
		"shareUrl": h.shareURL(r, poll.ID),
	})
}

func (h *Handler) shareURL(r *http.Request, pollID string) string {
	scheme := "http"
	if isSecureRequest(r) {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/poll/%s", scheme, r.Host, pollID)
}

// PollByID routes /api/polls/{id} and /api/polls/{id}/votes.
func (h *Handler) PollByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/polls/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.getPoll(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "votes":
		h.castVote(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "API route not found.")
	}
}

func (h *Handler) getPoll(w http.ResponseWriter, r *http.Request, pollID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := VoterToken(w, r)

	poll, ok := h.Store.GetPoll(pollID)
	if !ok {
		writeError(w, http.StatusNotFound, "Poll not found.")
		return
	}

	state := h.Store.VoteState(pollID, h.Hasher.TokenHash(token), h.Hasher.FingerprintFromRequest(r))
	var votedOptionID any
	if state.HasVoted {
		votedOptionID = state.OptionID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"poll":          poll,
		"hasVoted":      state.HasVoted,
		"votedOptionId": votedOptionID,
	})
}

type castVoteRequest struct {
	OptionID string `json:"optionId"`
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request, pollID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := VoterToken(w, r)
	log := h.logger(r).With("poll_id", pollID)

	var req castVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	optionID := strings.TrimSpace(req.OptionID)
	if optionID == "" {
		writeError(w, http.StatusBadRequest, "Option is required.")
		return
	}

	tokenHash := h.Hasher.TokenHash(token)
	fingerprintHash := h.Hasher.FingerprintFromRequest(r)

	// The attempt is consumed before the vote is examined, so probing
	// invalid options burns budget too.
	if h.VoteLimiter != nil {
		decision, err := h.VoteLimiter.Consume(r.Context(), pollID+":"+fingerprintHash)
		if err != nil {
			// Fail open: losing the limiter should not take voting down.
			log.Warn("vote limiter unavailable", "error", err)
		} else if decision.OverLimit {
			if decision.RetryAfter > 0 {
				seconds := int(decision.RetryAfter/time.Second) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			}
			h.metrics().VoteRejected("rate_limited")
			writeError(w, http.StatusTooManyRequests, "Too many attempts. Please wait a minute and try again.")
			return
		}
	}

	result, err := h.Store.CastVote(storage.CastVoteParams{
		PollID:          pollID,
		OptionID:        optionID,
		VoterTokenHash:  tokenHash,
		FingerprintHash: fingerprintHash,
	})
	if err != nil {
		log.Error("cast vote failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Unexpected vote failure.")
		return
	}

	if !result.Accepted {
		h.metrics().VoteRejected(string(result.Code))
		switch result.Code {
		case storage.RejectPollNotFound:
			writeError(w, http.StatusNotFound, "Poll not found.")
		case storage.RejectInvalidOption:
			writeError(w, http.StatusBadRequest, "Invalid option.")
		case storage.RejectAlreadyVotedToken, storage.RejectAlreadyVotedFingerprint:
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":         "A vote from this voter/session was already recorded.",
				"votedOptionId": result.VotedOptionID,
			})
		default:
			writeError(w, http.StatusInternalServerError, "Unexpected vote failure.")
		}
		return
	}

	h.metrics().VoteAccepted()
	h.publishPollUpdate(r, result.Poll, optionID)
	log.Info("vote accepted", "option_id", optionID, "total_votes", result.Poll.TotalVotes)

	writeJSON(w, http.StatusCreated, map[string]any{
		"poll":          result.Poll,
		"votedOptionId": optionID,
	})
}

func (h *Handler) publishPollUpdate(r *http.Request, poll models.PollSnapshot, optionID string) {
	if h.Queue == nil {
		return
	}
	event := hub.Event{
		Type:             hub.EventPollUpdate,
		PollID:           poll.ID,
		Poll:             &poll,
		LastVoteOptionID: optionID,
		UpdatedAt:        poll.UpdatedAt,
	}
	if err := h.Queue.Publish(r.Context(), event); err != nil {
		h.logger(r).Error("publish poll update failed", "error", err, "poll_id", poll.ID)
	}
}

// NotFound is the JSON fallthrough for unknown /api routes.
func (h *Handler) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "API route not found.")
}
