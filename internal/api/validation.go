package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxQuestionLength = 200
	maxOptionLength   = 100
	minOptions        = 2
	maxOptions        = 8
)

// CreatePollPayload is the normalized outcome of validating a create request.
type CreatePollPayload struct {
	Question string
	Options  []string
}

// ValidateCreatePoll normalizes and validates a create-poll request. Option
// texts are trimmed, empties dropped, and duplicates removed
// case-insensitively while keeping the first-seen casing and order. All
// failures are collected so the client can show every problem at once.
func ValidateCreatePoll(question string, rawOptions []string) (CreatePollPayload, []string) {
	var errors []string

	question = strings.TrimSpace(question)
	options := normalizeOptions(rawOptions)

	if question == "" {
		errors = append(errors, "Question is required.")
	} else if utf8.RuneCountInString(question) > maxQuestionLength {
		errors = append(errors, fmt.Sprintf("Question must be at most %d characters.", maxQuestionLength))
	}

	if len(options) < minOptions {
		errors = append(errors, fmt.Sprintf("At least %d unique options are required.", minOptions))
	}
	if len(options) > maxOptions {
		errors = append(errors, fmt.Sprintf("No more than %d options are allowed.", maxOptions))
	}
	for _, option := range options {
		if utf8.RuneCountInString(option) > maxOptionLength {
			errors = append(errors, fmt.Sprintf("Each option must be at most %d characters.", maxOptionLength))
			break
		}
	}

	if len(errors) > 0 {
		return CreatePollPayload{}, errors
	}
	return CreatePollPayload{Question: question, Options: options}, nil
}

func normalizeOptions(rawOptions []string) []string {
	seen := make(map[string]struct{}, len(rawOptions))
	options := make([]string, 0, len(rawOptions))
	for _, raw := range rawOptions {
		option := strings.TrimSpace(raw)
		if option == "" {
			continue
		}
		key := strings.ToLower(option)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		options = append(options, option)
	}
	return options
}
