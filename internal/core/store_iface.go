package core

import (
	"context"
	"time"

	"github.com/dkeye/meshcall/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/dkeye/meshcall/internal/core CallStore

// CallStore persists call and participant status. Callers treat failures as non-fatal.
type CallStore interface {
	CreateCall(ctx context.Context, call domain.CallRecord) error
	UpdateCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus, at time.Time) error
	SetParticipantStatus(ctx context.Context, id domain.CallID, participant domain.ParticipantID, status domain.ParticipantStatus, at time.Time) error
	GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error)
}
