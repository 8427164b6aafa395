package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TouchResult is the delivery result of one outreach attempt.
type TouchResult string

const (
	TouchSent    TouchResult = "sent"
	TouchFailed  TouchResult = "failed"
	TouchSkipped TouchResult = "skipped"
)

// TouchRecord is an immutable ledger entry for an outbound attempt.
type TouchRecord struct {
	ID          string
	UserID      string
	ContactID   string
	Channel     string
	TouchNumber int
	Result      TouchResult
	Detail      string
	CreatedAt   time.Time
}

// DispositionRecord is an immutable ledger entry for a disposition write.
type DispositionRecord struct {
	ID               string
	UserID           string
	TriggerContactID string
	ContactID        string
	Outcome          string
	Source           string
	CreatedAt        time.Time
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TouchLog writes the contact-attempt ledger used for TCPA/A2P audits.
type TouchLog struct {
	db  execQuerier
	now func() time.Time
}

// NewTouchLog creates a ledger backed by a pgx pool.
func NewTouchLog(pool *pgxpool.Pool) *TouchLog {
	if pool == nil {
		panic("compliance: pgx pool required")
	}
	return newTouchLogWithExec(pool)
}

func newTouchLogWithExec(db execQuerier) *TouchLog {
	if db == nil {
		panic("compliance: exec required")
	}
	return &TouchLog{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// RecordTouch appends an outbound attempt to the ledger.
func (l *TouchLog) RecordTouch(ctx context.Context, rec TouchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	query := `
		INSERT INTO outreach_touches (
			id, user_id, contact_id, channel, touch_number, result, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.ContactID, rec.Channel,
		rec.TouchNumber, string(rec.Result), nullString(rec.Detail), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: record touch: %w", err)
	}
	return nil
}

// RecordDisposition appends a disposition write to the ledger.
func (l *TouchLog) RecordDisposition(ctx context.Context, rec DispositionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	query := `
		INSERT INTO outreach_dispositions (
			id, user_id, trigger_contact_id, contact_id, outcome, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := l.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.TriggerContactID, rec.ContactID,
		rec.Outcome, rec.Source, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: record disposition: %w", err)
	}
	return nil
}

// SentSince counts successful touches to a contact on a channel since the given time.
func (l *TouchLog) SentSince(ctx context.Context, contactID, channel string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM outreach_touches
		WHERE contact_id = $1 AND channel = $2 AND result = 'sent' AND created_at >= $3
	`
	var count int
	if err := l.db.QueryRow(ctx, query, contactID, channel, since).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("compliance: count touches: %w", err)
	}
	return count, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
