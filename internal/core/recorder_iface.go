package core

import (
	"context"
	"time"

	"github.com/dkeye/Callbridge/internal/domain"
)

// CallRecord is the post-hoc metadata of one call kept by an external store.
type CallRecord struct {
	ID        int64            `json:"id"`
	SessionID domain.SessionID `json:"sessionId"`
	Caller    domain.UserID    `json:"caller"`
	Answerer  domain.UserID    `json:"answerer"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
	EndReason string           `json:"endReason,omitempty"`
}

// CallRecorder persists call metadata. The signaling core never reads it back.
type CallRecorder interface {
	CallStarted(ctx context.Context, rec CallRecord) error
	CallEnded(ctx context.Context, id domain.SessionID, endedAt time.Time, reason string) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) CallStarted(context.Context, CallRecord) error { return nil }

func (NopRecorder) CallEnded(context.Context, domain.SessionID, time.Time, string) error {
	return nil
}

// CallHistory reads the call log back for the admin API.
type CallHistory interface {
	Recent(ctx context.Context, limit int) ([]CallRecord, error)
}
