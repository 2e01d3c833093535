// Package domain contains call entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxIDLen = 64

var (
	ErrIDEmpty   = errors.New("id empty")
	ErrIDTooLong = errors.New("id too long")
)

type ParticipantID string

type ParticipantStatus string

const (
	ParticipantInvited        ParticipantStatus = "invited"
	ParticipantJoined         ParticipantStatus = "joined"
	ParticipantConnectionLost ParticipantStatus = "connection_lost"
	ParticipantLeft           ParticipantStatus = "left"
)

// ParseParticipantID trims and validates a raw participant id.
func ParseParticipantID(raw string) (ParticipantID, error) {
	id, err := parseID(raw)
	return ParticipantID(id), err
}

func parseID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrIDEmpty
	}
	if len(raw) > MaxIDLen {
		return "", ErrIDTooLong
	}
	return raw, nil
}
