package scheduler

import (
	"context"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	prometheusChime "git.mci.dev/mse/sre/phoenix/golang/chime/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/twilio"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/utils"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Service runs the scheduling loop: find due reminders, reserve a dial
// attempt for each and fan the outbound calls out on the worker pool.
// Multiple instances may tick concurrently against the same database; the
// reservation CAS guarantees each due reminder is dialed at most once.
type Service struct {
	Store    reminder.Store
	Policy   reminder.Policy
	Dialer   twilio.Dialer
	Outcomes *reminder.OutcomeService
	Pool     *ants.Pool
}

// TickSummary reports what one pass over the due set did.
type TickSummary struct {
	DueFound       int `json:"due_found"`
	Reserved       int `json:"reserved"`
	CallsInitiated int `json:"calls_initiated"`
	Skipped        int `json:"skipped"`
	AutoAdvanced   int `json:"auto_advanced"`
	Reclaimed      int `json:"reclaimed"`
	Errors         int `json:"errors"`
}

func NewService(
	store reminder.Store,
	policy reminder.Policy,
	dialer twilio.Dialer,
	outcomes *reminder.OutcomeService,
	poolSize int,
) (*Service, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:    store,
		Policy:   policy,
		Dialer:   dialer,
		Outcomes: outcomes,
		Pool:     pool,
	}, nil
}

func (s *Service) Close() {
	s.Pool.Release()
}

// Tick runs one scheduling pass. An empty due set is a no-op: ticking is
// idempotent and safe to run on any cadence.
func (s *Service) Tick(ctx context.Context, limit int) (TickSummary, error) {
	timer := prometheus.NewTimer(prometheusChime.TickDuration)
	defer timer.ObserveDuration()

	var summary TickSummary

	summary.Reclaimed = s.reclaimStuck(ctx, limit)

	now := time.Now()

	due, err := s.Store.FindDue(ctx, reminder.DialableStatuses, now, limit)
	if err != nil {
		summary.Errors++
		return summary, err
	}

	summary.DueFound = len(due)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i := range due {
		r := due[i]

		target := s.Policy.PickTarget(&r)
		if target == reminder.TargetNone {
			err := s.autoAdvance(ctx, r.ID)
			if err != nil {
				logging.Logger.Error("failed to auto-advance reminder",
					zap.String("reminder_id", utils.ShortID(r.ID)),
					zap.String("error", err.Error()),
				)

				summary.Errors++

				continue
			}

			summary.AutoAdvanced++

			continue
		}

		reserved, err := s.Store.Reserve(ctx, reminder.Reservation{
			ReminderID:  r.ID,
			Target:      target,
			Now:         now,
			MaxAttempts: s.Policy.MaxAttemptsFor(target),
			Note:        reminder.InitiatedOutcome(target),
		})
		if err != nil {
			summary.Errors++
			continue
		}

		if !reserved {
			prometheusChime.ReservationsLost.Inc()
			summary.Skipped++

			continue
		}

		summary.Reserved++

		wg.Add(1)

		submitErr := s.Pool.Submit(func() {
			defer wg.Done()
			defer s.handlePanic(r.ID, &mu, &summary)

			ok := s.dispatch(ctx, r.ID, target)

			mu.Lock()
			defer mu.Unlock()

			if ok {
				summary.CallsInitiated++
			} else {
				summary.Errors++
			}
		})
		if submitErr != nil {
			wg.Done()

			logging.Logger.Error("failed to submit dial job to ants pool",
				zap.String("reminder_id", utils.ShortID(r.ID)),
				zap.String("error", submitErr.Error()),
			)

			summary.Errors++
		}
	}

	wg.Wait()

	logging.Logger.Info("tick finished",
		zap.Int("due_found", summary.DueFound),
		zap.Int("reserved", summary.Reserved),
		zap.Int("calls_initiated", summary.CallsInitiated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("auto_advanced", summary.AutoAdvanced),
		zap.Int("reclaimed", summary.Reclaimed),
		zap.Int("errors", summary.Errors),
	)

	return summary, nil
}

// autoAdvance finalizes a reminder with no dialable target inside one
// transaction, re-reading the row so a concurrent callback that already moved
// it is respected.
func (s *Service) autoAdvance(ctx context.Context, reminderID string) error {
	return s.Store.Transaction(ctx, func(tx reminder.Store) error {
		r, err := tx.Get(ctx, reminderID)
		if err != nil {
			return err
		}

		if r.NextAttemptAt == nil || s.Policy.PickTarget(r) != reminder.TargetNone {
			return nil
		}

		return s.Outcomes.WithStore(tx).AutoAdvance(ctx, r)
	})
}

func (s *Service) reclaimStuck(ctx context.Context, limit int) int {
	if s.Policy.StuckCallTimeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-s.Policy.StuckCallTimeout)

	stuck, err := s.Store.FindStuckCalling(ctx, cutoff, limit)
	if err != nil {
		logging.Logger.Error("failed to fetch stuck reminders", zap.String("error", err.Error()))
		return 0
	}

	reclaimed := 0

	for i := range stuck {
		err := s.Outcomes.Reclaim(ctx, &stuck[i])
		if err != nil {
			logging.Logger.Error("failed to reclaim reminder",
				zap.String("reminder_id", utils.ShortID(stuck[i].ID)),
				zap.String("error", err.Error()),
			)

			continue
		}

		logging.Logger.Warn("reclaimed stuck reminder",
			zap.String("reminder_id", utils.ShortID(stuck[i].ID)),
			zap.Duration("timeout", s.Policy.StuckCallTimeout),
		)

		reclaimed++
	}

	return reclaimed
}

// dispatch places the outbound call for a reserved reminder. A failed
// initiation is compensated immediately so the reminder never sits in CALLING
// waiting for a callback that cannot arrive.
func (s *Service) dispatch(ctx context.Context, reminderID string, target reminder.Target) bool {
	r, err := s.Store.Get(ctx, reminderID)
	if err != nil {
		logging.Logger.Error("failed to load reserved reminder",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("error", err.Error()),
		)

		return false
	}

	destination := r.DestinationFor(target)

	timer := prometheus.NewTimer(prometheusChime.DialLatency)
	callSID, dialErr := s.Dialer.Initiate(ctx, twilio.InitiateParams{
		ReminderID: reminderID,
		To:         destination,
		Target:     string(target),
		Title:      r.Title,
	})
	timer.ObserveDuration()

	if dialErr != nil {
		logging.Logger.Error("failed to initiate call",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("target", string(target)),
			zap.String("to", utils.MaskPhone(destination)),
			zap.String("error", dialErr.Error()),
		)

		err := s.Outcomes.ApplyDialFailure(ctx, reminderID, target, dialErr)
		if err != nil {
			logging.Logger.Error("failed to compensate dial failure",
				zap.String("reminder_id", utils.ShortID(reminderID)),
				zap.String("error", err.Error()),
			)
		}

		return false
	}

	prometheusChime.CallsInitiated.WithLabelValues(string(target)).Inc()

	err = s.Store.AppendLog(ctx, &reminder.CallLog{
		ReminderID: reminderID,
		CallSID:    callSID,
		Outcome:    reminder.InitiatedOutcome(target),
	})
	if err != nil {
		logging.Logger.Error("failed to append initiated log",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("call_sid", callSID),
			zap.String("error", err.Error()),
		)
	}

	return true
}

func (s *Service) handlePanic(reminderID string, mu *sync.Mutex, summary *TickSummary) {
	rec := recover()
	if rec == nil {
		return
	}

	logging.Logger.Error("panic while dispatching call",
		zap.String("reminder_id", utils.ShortID(reminderID)),
		zap.Any("panic", rec),
	)

	mu.Lock()
	defer mu.Unlock()

	summary.Errors++
}
