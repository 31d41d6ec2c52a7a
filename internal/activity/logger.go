// Package activity appends sign-up, sign-in and sign-out records to the
// activity log.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/types"
)

// maxInsertAttempts bounds the rescan loop when a sequenced id is taken.
const maxInsertAttempts = 5

// Repository persists activity records.
type Repository interface {
	// Upsert writes record, replacing any record with the same id.
	Upsert(ctx context.Context, record types.ActivityRecord) error
	// Insert writes record or returns store.ErrConflict if its id is taken.
	Insert(ctx context.Context, record types.ActivityRecord) error
	// MaxSequence returns the highest sequence number stored for the
	// (type, username) pair, or 0 when there is none.
	MaxSequence(ctx context.Context, activityType types.ActivityType, username string) (int64, error)
}

type Logger struct {
	repo  Repository
	log   logging.Logger
	clock func() time.Time
}

func NewLogger(repo Repository, log logging.Logger) *Logger {
	return &Logger{repo: repo, log: log, clock: time.Now}
}

// Username returns the part of email before the first "@".
func Username(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// DocumentID builds the record id for the given type, username and sequence.
func DocumentID(activityType types.ActivityType, username string, seq int64) string {
	if !activityType.Sequenced() {
		return fmt.Sprintf("%s-%s", activityType, username)
	}
	return fmt.Sprintf("%s-%s-%d", activityType, username, seq)
}

// Record appends an activity record for the user and returns it.
//
// Sign-up records use a fixed id and overwrite earlier ones. Sign-in and
// sign-out records are numbered max+1 per (type, username); if the id was
// claimed concurrently the number is recomputed.
func (l *Logger) Record(ctx context.Context, userID, email string, activityType types.ActivityType) (types.ActivityRecord, error) {
	if !activityType.Valid() {
		return types.ActivityRecord{}, fmt.Errorf("unknown activity type %q", activityType)
	}

	username := Username(email)
	record := types.ActivityRecord{
		Type:      activityType,
		UserID:    userID,
		Email:     email,
		Username:  username,
		Timestamp: l.clock(),
	}

	if !activityType.Sequenced() {
		record.DocumentID = DocumentID(activityType, username, 0)
		if err := l.repo.Upsert(ctx, record); err != nil {
			return types.ActivityRecord{}, fmt.Errorf("log %s: %w", activityType, err)
		}
		l.log.Info(ctx, "activity logged", "document_id", record.DocumentID, "user_id", userID)
		return record, nil
	}

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		seq := l.nextSequence(ctx, activityType, username)
		record.SequenceNumber = &seq
		record.DocumentID = DocumentID(activityType, username, seq)

		err := l.repo.Insert(ctx, record)
		if err == nil {
			l.log.Info(ctx, "activity logged",
				"document_id", record.DocumentID,
				"user_id", userID,
				"sequence", seq,
			)
			return record, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return types.ActivityRecord{}, fmt.Errorf("log %s: %w", activityType, err)
		}
		l.log.Warn(ctx, "activity id taken, rescanning", "document_id", record.DocumentID, "attempt", attempt)
	}

	return types.ActivityRecord{}, fmt.Errorf("log %s: no free sequence number after %d attempts", activityType, maxInsertAttempts)
}

// nextSequence falls back to the current Unix time in milliseconds when the
// scan fails. That keeps ids unique in practice but breaks density.
func (l *Logger) nextSequence(ctx context.Context, activityType types.ActivityType, username string) int64 {
	max, err := l.repo.MaxSequence(ctx, activityType, username)
	if err != nil {
		fallback := l.clock().UnixMilli()
		l.log.Warn(ctx, "sequence scan failed, using timestamp",
			"type", string(activityType),
			"username", username,
			"fallback", fallback,
			"error", err,
		)
		return fallback
	}
	return max + 1
}
