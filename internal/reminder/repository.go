package reminder

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidReminderResult      = errors.New("invalid result type, it should be pointer to Reminder struct")
	ErrInvalidReminderSliceResult = errors.New("invalid result type, it should be slice of Reminder")
	ErrInvalidCallLogSliceResult  = errors.New("invalid result type, it should be slice of CallLog")
	ErrInvalidBoolResult          = errors.New("invalid result type, it should be bool")
)

// Repository is the Postgres-backed Store. Every call goes through the shared
// database circuit breaker so a dead database trips the app health checker
// instead of hammering the connection pool.
type Repository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewRepository(dbConn *gorm.DB) *Repository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &Repository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func (repo *Repository) Create(ctx context.Context, r *Reminder) error {
	_, err := repo.CircuitBreaker.Execute(func() (any, error) {
		err := repo.DBConn.WithContext(ctx).Create(r).Error
		if err != nil {
			logging.Logger.Error("failed to create reminder",
				zap.String("reminder_id", r.ID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return r, nil
	})

	return err
}

func (repo *Repository) Get(ctx context.Context, id string) (*Reminder, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var r Reminder

		err := repo.DBConn.WithContext(ctx).
			Where("id = ?", id).
			First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		if err != nil {
			return nil, err
		}

		return &r, nil
	})
	if err != nil {
		return nil, err
	}

	r, ok := result.(*Reminder)
	if !ok {
		return nil, ErrInvalidReminderResult
	}

	return r, nil
}

func (repo *Repository) List(ctx context.Context) ([]Reminder, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var reminders []Reminder

		err := repo.DBConn.WithContext(ctx).
			Order("created_at DESC").
			Find(&reminders).Error
		if err != nil {
			return nil, err
		}

		return reminders, nil
	})
	if err != nil {
		return nil, err
	}

	reminders, ok := result.([]Reminder)
	if !ok {
		return nil, ErrInvalidReminderSliceResult
	}

	return reminders, nil
}

func (repo *Repository) FindDue(
	ctx context.Context,
	statuses []Status,
	now time.Time,
	limit int,
) ([]Reminder, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var reminders []Reminder

		err := repo.DBConn.WithContext(ctx).
			Where("status IN ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?", statuses, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&reminders).Error
		if err != nil {
			logging.Logger.Error("failed to fetch due reminders", zap.String("error", err.Error()))
			return nil, err
		}

		return reminders, nil
	})
	if err != nil {
		return nil, err
	}

	reminders, ok := result.([]Reminder)
	if !ok {
		return nil, ErrInvalidReminderSliceResult
	}

	return reminders, nil
}

func (repo *Repository) FindStuckCalling(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]Reminder, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var reminders []Reminder

		err := repo.DBConn.WithContext(ctx).
			Where("status = ? AND updated_at <= ?", StatusCalling, cutoff).
			Order("updated_at ASC").
			Limit(limit).
			Find(&reminders).Error
		if err != nil {
			return nil, err
		}

		return reminders, nil
	})
	if err != nil {
		return nil, err
	}

	reminders, ok := result.([]Reminder)
	if !ok {
		return nil, ErrInvalidReminderSliceResult
	}

	return reminders, nil
}

// Reserve issues the single conditional UPDATE that claims a dial attempt. The
// WHERE clause re-checks the full due predicate so a row mutated by a
// concurrent tick or callback since FindDue simply matches zero rows.
func (repo *Repository) Reserve(ctx context.Context, rsv Reservation) (bool, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		tx := repo.DBConn.WithContext(ctx).
			Model(&Reminder{}).
			Where(
				"id = ? AND status IN ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
				rsv.ReminderID, DialableStatuses, rsv.Now,
			)

		updates := map[string]any{
			FieldStatus:        StatusCalling,
			FieldNextAttemptAt: nil,
			FieldLastTarget:    rsv.Target,
			FieldLastOutcome:   rsv.Note,
		}

		switch rsv.Target {
		case TargetPrimary:
			tx = tx.Where("attempts < ?", rsv.MaxAttempts)
			updates[FieldAttempts] = gorm.Expr("attempts + 1")
		case TargetBackup:
			tx = tx.Where("backup_attempts < ? AND backup_phone IS NOT NULL", rsv.MaxAttempts)
			updates[FieldBackupAttempts] = gorm.Expr("backup_attempts + 1")
		default:
			return false, ErrInvalidTarget
		}

		res := tx.Updates(updates)
		if res.Error != nil {
			logging.Logger.Error("failed to reserve reminder",
				zap.String("reminder_id", rsv.ReminderID),
				zap.String("target", string(rsv.Target)),
				zap.String("error", res.Error.Error()),
			)

			return false, res.Error
		}

		return res.RowsAffected == 1, nil
	})
	if err != nil {
		return false, err
	}

	reserved, ok := result.(bool)
	if !ok {
		return false, ErrInvalidBoolResult
	}

	return reserved, nil
}

func (repo *Repository) UpdateWhere(
	ctx context.Context,
	id string,
	expected []Status,
	fields map[string]any,
) (bool, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		tx := repo.DBConn.WithContext(ctx).
			Model(&Reminder{}).
			Where("id = ?", id)

		if len(expected) > 0 {
			tx = tx.Where("status IN ?", expected)
		}

		res := tx.Updates(fields)
		if res.Error != nil {
			logging.Logger.Error("failed to update reminder",
				zap.String("reminder_id", id),
				zap.Any("fields", fields),
				zap.String("error", res.Error.Error()),
			)

			return false, res.Error
		}

		return res.RowsAffected == 1, nil
	})
	if err != nil {
		return false, err
	}

	matched, ok := result.(bool)
	if !ok {
		return false, ErrInvalidBoolResult
	}

	return matched, nil
}

func (repo *Repository) AppendLog(ctx context.Context, log *CallLog) error {
	_, err := repo.CircuitBreaker.Execute(func() (any, error) {
		err := repo.DBConn.WithContext(ctx).Create(log).Error
		if err != nil {
			logging.Logger.Error("failed to append call log",
				zap.String("reminder_id", log.ReminderID),
				zap.String("call_sid", log.CallSID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return log, nil
	})

	return err
}

func (repo *Repository) HasConfirmIntent(ctx context.Context, reminderID, callSID string) (bool, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var count int64

		err := repo.DBConn.WithContext(ctx).
			Model(&CallLog{}).
			Where("reminder_id = ? AND call_sid = ? AND intent = ?", reminderID, callSID, IntentConfirm).
			Count(&count).Error
		if err != nil {
			return false, err
		}

		return count > 0, nil
	})
	if err != nil {
		return false, err
	}

	found, ok := result.(bool)
	if !ok {
		return false, ErrInvalidBoolResult
	}

	return found, nil
}

func (repo *Repository) ListLogs(ctx context.Context, reminderID string) ([]CallLog, error) {
	result, err := repo.CircuitBreaker.Execute(func() (any, error) {
		var logs []CallLog

		err := repo.DBConn.WithContext(ctx).
			Where("reminder_id = ?", reminderID).
			Order("id ASC").
			Find(&logs).Error
		if err != nil {
			return nil, err
		}

		return logs, nil
	})
	if err != nil {
		return nil, err
	}

	logs, ok := result.([]CallLog)
	if !ok {
		return nil, ErrInvalidCallLogSliceResult
	}

	return logs, nil
}

// Transaction shares the circuit breaker with the parent so nested calls count
// against the same failure budget.
func (repo *Repository) Transaction(ctx context.Context, fn func(Store) error) error {
	return repo.DBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{DBConn: tx, CircuitBreaker: repo.CircuitBreaker})
	})
}
