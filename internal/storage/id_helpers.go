package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Identifier lengths match the public wire format: poll IDs are shared in
// URLs and validated by the realtime channel's join guard.
const (
	pollIDLength   = 10
	optionIDLength = 8
	voteIDLength   = 14
)

func generatePollID() (string, error) {
	return randomHex(pollIDLength)
}

func generateOptionID() (string, error) {
	return randomHex(optionIDLength)
}

func generateVoteID() (string, error) {
	return randomHex(voteIDLength)
}

// randomHex returns a lowercase hex string of exactly length characters.
func randomHex(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate identifier: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}
