package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("reminder not found")
	ErrInvalidTarget = errors.New("reservation target must be primary or backup")
)

// Field keys accepted by Store.UpdateWhere. They match the column names so the
// gorm implementation can pass them straight through.
const (
	FieldStatus         = "status"
	FieldNextAttemptAt  = "next_attempt_at"
	FieldAttempts       = "attempts"
	FieldBackupAttempts = "backup_attempts"
	FieldLastOutcome    = "last_outcome"
	FieldLastTarget     = "last_target"
)

// Reservation is an atomic claim of exactly one dial attempt. It succeeds only
// if the row still matches the due predicate (status dialable, relevant counter
// below MaxAttempts, next_attempt_at set and <= Now) at update time.
type Reservation struct {
	ReminderID  string
	Target      Target
	Now         time.Time
	MaxAttempts int
	Note        string
}

// Store is the persistence capability the engines run against. All coordination
// between concurrent ticks and inbound callbacks is pushed down into the
// conditional updates (Reserve, UpdateWhere); the Store is the sole concurrency
// primitive the engines rely on.
type Store interface {
	Create(ctx context.Context, r *Reminder) error
	Get(ctx context.Context, id string) (*Reminder, error)
	List(ctx context.Context) ([]Reminder, error)

	// FindDue returns reminders in the given statuses whose next_attempt_at is
	// set and <= now, ordered by next_attempt_at ascending, capped at limit.
	FindDue(ctx context.Context, statuses []Status, now time.Time, limit int) ([]Reminder, error)

	// FindStuckCalling returns CALLING reminders untouched since cutoff.
	FindStuckCalling(ctx context.Context, cutoff time.Time, limit int) ([]Reminder, error)

	// Reserve performs the compare-and-swap transition to CALLING, incrementing
	// the counter for the target and clearing next_attempt_at. A false return
	// with nil error means the row no longer matched: the race was lost.
	Reserve(ctx context.Context, rsv Reservation) (bool, error)

	// UpdateWhere applies fields to the reminder only while its status is one
	// of expected (nil or empty expected means any status). Returns whether a
	// row matched.
	UpdateWhere(ctx context.Context, id string, expected []Status, fields map[string]any) (bool, error)

	AppendLog(ctx context.Context, log *CallLog) error

	// HasConfirmIntent reports whether a gather log with intent=confirm exists
	// for the given call identifier.
	HasConfirmIntent(ctx context.Context, reminderID, callSID string) (bool, error)

	ListLogs(ctx context.Context, reminderID string) ([]CallLog, error)

	// Transaction runs fn against a store view whose writes commit atomically.
	Transaction(ctx context.Context, fn func(Store) error) error
}
