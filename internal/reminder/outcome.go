package reminder

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/events"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// OutcomeService is the state machine behind every reminder transition. All
// status changes go through conditional updates keyed on the current status,
// so a replayed or late provider callback matches zero rows instead of
// corrupting a reminder that already moved on.
type OutcomeService struct {
	Store     Store
	Policy    Policy
	Publisher events.Publisher
}

func NewOutcomeService(store Store, policy Policy, publisher events.Publisher) *OutcomeService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &OutcomeService{
		Store:     store,
		Policy:    policy,
		Publisher: publisher,
	}
}

// WithStore returns a copy bound to another store view, used to run the
// engine inside an open transaction.
func (s *OutcomeService) WithStore(st Store) *OutcomeService {
	return &OutcomeService{
		Store:     st,
		Policy:    s.Policy,
		Publisher: s.Publisher,
	}
}

// ApplyGather records the contact's response during a live call and returns
// the classified intent so the caller can speak the matching reply. A confirm
// intent finishes the reminder right away; the terminal callback that follows
// only leaves an audit log.
func (s *OutcomeService) ApplyGather(
	ctx context.Context,
	reminderID, callSID, digits, speech string,
	payload datatypes.JSON,
) (Intent, error) {
	intent := ClassifyGather(digits, speech)

	transcript := speech
	if transcript == "" {
		transcript = digits
	}

	err := s.Store.Transaction(ctx, func(tx Store) error {
		err := tx.AppendLog(ctx, &CallLog{
			ReminderID: reminderID,
			CallSID:    callSID,
			Outcome:    string(OutcomeGather),
			Transcript: utils.Truncate(transcript, TranscriptMaxLen),
			Intent:     intent,
			Payload:    payload,
		})
		if err != nil {
			return err
		}

		switch intent {
		case IntentSnooze:
			next := time.Now().Add(s.Policy.SnoozeDelay)

			matched, err := tx.UpdateWhere(ctx, reminderID, []Status{StatusCalling}, map[string]any{
				FieldStatus:        StatusRetrying,
				FieldNextAttemptAt: &next,
				FieldLastOutcome:   "gather:snooze",
			})
			if err != nil {
				return err
			}

			if matched {
				s.publishTransition(reminderID, StatusCalling, StatusRetrying, TargetNone, "gather:snooze", callSID)
			}
		case IntentConfirm:
			matched, err := tx.UpdateWhere(ctx, reminderID, []Status{StatusCalling}, map[string]any{
				FieldStatus:        StatusDone,
				FieldNextAttemptAt: nil,
				FieldLastOutcome:   "gather:confirm",
			})
			if err != nil {
				return err
			}

			if matched {
				s.publishTransition(reminderID, StatusCalling, StatusDone, TargetNone, "gather:confirm", callSID)
			}
		}

		return nil
	})
	if err != nil {
		return intent, err
	}

	logging.Logger.Info("gather classified",
		zap.String("reminder_id", utils.ShortID(reminderID)),
		zap.String("call_sid", callSID),
		zap.String("intent", string(intent)),
	)

	return intent, nil
}

// ApplyCallStatus consumes a terminal or intermediate call status from the
// provider. A confirmed reminder is already DONE when the terminal callback
// arrives, so only an audit log is appended. A completed call still in
// CALLING finishes when the same call produced a confirm intent; completed
// without confirmation counts as missed, same as no-answer, busy, failed
// and canceled.
func (s *OutcomeService) ApplyCallStatus(
	ctx context.Context,
	reminderID, callSID, rawStatus string,
	payload datatypes.JSON,
) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		r, err := tx.Get(ctx, reminderID)
		if err != nil {
			return err
		}

		target := r.LastTarget
		if target == TargetNone {
			target = TargetPrimary
		}

		outcome := StatusOutcome(rawStatus, target)

		err = tx.AppendLog(ctx, &CallLog{
			ReminderID: reminderID,
			CallSID:    callSID,
			Outcome:    outcome,
			Payload:    payload,
		})
		if err != nil {
			return err
		}

		// Terminal reminders only accumulate audit logs.
		if r.Status == StatusDone {
			return nil
		}

		switch {
		case rawStatus == CallStatusCompleted:
			confirmed, err := tx.HasConfirmIntent(ctx, reminderID, callSID)
			if err != nil {
				return err
			}

			if confirmed {
				matched, err := tx.UpdateWhere(ctx, reminderID, []Status{StatusCalling}, map[string]any{
					FieldStatus:        StatusDone,
					FieldNextAttemptAt: nil,
					FieldLastOutcome:   outcome + "; confirmed",
				})
				if err != nil {
					return err
				}

				if matched {
					s.publishTransition(reminderID, r.Status, StatusDone, target, outcome, callSID)
				}

				return nil
			}

			return s.WithStore(tx).missTransition(ctx, r, target, outcome, callSID)
		case IsMissedStatus(rawStatus):
			return s.WithStore(tx).missTransition(ctx, r, target, outcome, callSID)
		}

		// Intermediate and unrecognized statuses refresh the outcome for the
		// audit trail in whatever non-terminal state the reminder is in.
		_, err = tx.UpdateWhere(ctx, reminderID, nil, map[string]any{
			FieldLastOutcome: outcome,
		})

		return err
	})
}

// ApplyDialFailure compensates a reservation whose outbound call never left
// the building. The reminder would otherwise sit in CALLING forever waiting
// for a callback that cannot arrive.
func (s *OutcomeService) ApplyDialFailure(ctx context.Context, reminderID string, target Target, dialErr error) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		r, err := tx.Get(ctx, reminderID)
		if err != nil {
			return err
		}

		outcome := InitiationErrorOutcome(target)
		callSID := "init-failed-" + uuid.NewString()

		err = tx.AppendLog(ctx, &CallLog{
			ReminderID: reminderID,
			CallSID:    callSID,
			Outcome:    outcome,
			Transcript: utils.Truncate(dialErr.Error(), TranscriptMaxLen),
		})
		if err != nil {
			return err
		}

		return s.WithStore(tx).missTransition(ctx, r, target, outcome, callSID)
	})
}

// AutoAdvance finalizes a due reminder that has no dialable target left. A
// reminder out of primary attempts escalates when a backup contact with
// remaining budget exists, otherwise it finishes.
func (s *OutcomeService) AutoAdvance(ctx context.Context, r *Reminder) error {
	if r.Status == StatusEscalated {
		return s.finish(ctx, r, MaxAttemptsOutcome(TargetBackup))
	}

	if r.HasBackup() && r.BackupAttempts < s.Policy.MaxBackupAttempts {
		next := time.Now().Add(s.Policy.RetryDelay)

		matched, err := s.Store.UpdateWhere(ctx, r.ID, []Status{r.Status}, map[string]any{
			FieldStatus:        StatusEscalated,
			FieldNextAttemptAt: &next,
			FieldLastOutcome:   string(OutcomeEscalated),
		})
		if err != nil {
			return err
		}

		if matched {
			s.appendTransitionLog(ctx, r.ID, string(OutcomeEscalated))
			s.publishTransition(r.ID, r.Status, StatusEscalated, TargetNone, string(OutcomeEscalated), "")
		}

		return nil
	}

	return s.finish(ctx, r, MaxAttemptsOutcome(TargetPrimary))
}

// Reclaim rescues a reminder stuck in CALLING after the provider went silent,
// treating the lost call as a miss.
func (s *OutcomeService) Reclaim(ctx context.Context, r *Reminder) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		target := r.LastTarget
		if target == TargetNone {
			target = TargetPrimary
		}

		outcome := ReclaimedOutcome(target)
		callSID := "reclaimed-" + uuid.NewString()

		err := tx.AppendLog(ctx, &CallLog{
			ReminderID: r.ID,
			CallSID:    callSID,
			Outcome:    outcome,
		})
		if err != nil {
			return err
		}

		return s.WithStore(tx).missTransition(ctx, r, target, outcome, callSID)
	})
}

// missTransition routes a missed call to its next state. Primary misses with
// attempt budget retry, exhausted primaries escalate to the backup contact,
// and a reminder with nowhere left to go finishes.
func (s *OutcomeService) missTransition(
	ctx context.Context,
	r *Reminder,
	target Target,
	outcome, callSID string,
) error {
	var (
		toStatus Status
		note     string
		next     *time.Time
	)

	switch {
	case target == TargetPrimary && r.Attempts < s.Policy.MaxPrimaryAttempts:
		toStatus = StatusRetrying
		note = outcome
		next = timePtr(time.Now().Add(s.Policy.RetryDelay))
	case target == TargetPrimary && r.HasBackup() && r.BackupAttempts < s.Policy.MaxBackupAttempts:
		toStatus = StatusEscalated
		note = outcome + "; " + string(OutcomeEscalated)
		next = timePtr(time.Now().Add(s.Policy.RetryDelay))
	case target == TargetPrimary:
		toStatus = StatusDone
		note = outcome + "; no backup"

		if r.HasBackup() {
			note = outcome + "; " + MaxAttemptsOutcome(TargetBackup)
		}
	case r.BackupAttempts < s.Policy.MaxBackupAttempts:
		toStatus = StatusEscalated
		note = outcome
		next = timePtr(time.Now().Add(s.Policy.RetryDelay))
	default:
		toStatus = StatusDone
		note = outcome + "; " + MaxAttemptsOutcome(TargetBackup)
	}

	matched, err := s.Store.UpdateWhere(ctx, r.ID, []Status{StatusCalling}, map[string]any{
		FieldStatus:        toStatus,
		FieldNextAttemptAt: next,
		FieldLastOutcome:   note,
	})
	if err != nil {
		return err
	}

	if matched {
		s.publishTransition(r.ID, r.Status, toStatus, target, note, callSID)
	}

	return nil
}

func (s *OutcomeService) finish(ctx context.Context, r *Reminder, outcome string) error {
	matched, err := s.Store.UpdateWhere(ctx, r.ID, []Status{r.Status}, map[string]any{
		FieldStatus:        StatusDone,
		FieldNextAttemptAt: nil,
		FieldLastOutcome:   outcome,
	})
	if err != nil {
		return err
	}

	if matched {
		s.appendTransitionLog(ctx, r.ID, outcome)
		s.publishTransition(r.ID, r.Status, StatusDone, TargetNone, outcome, "")
	}

	return nil
}

func (s *OutcomeService) appendTransitionLog(ctx context.Context, reminderID, outcome string) {
	err := s.Store.AppendLog(ctx, &CallLog{
		ReminderID: reminderID,
		Outcome:    outcome,
	})
	if err != nil {
		logging.Logger.Error("failed to append transition log",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("outcome", outcome),
			zap.String("error", err.Error()),
		)
	}
}

func (s *OutcomeService) publishTransition(reminderID string, from, to Status, target Target, outcome, callSID string) {
	prometheus.ReminderTransitions.WithLabelValues(string(to)).Inc()

	logging.Logger.Info("reminder transition",
		zap.String("reminder_id", utils.ShortID(reminderID)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("outcome", outcome),
	)

	s.Publisher.PublishTransition(events.TransitionEvent{
		ReminderID: reminderID,
		From:       string(from),
		To:         string(to),
		Target:     string(target),
		Outcome:    outcome,
		CallSID:    callSID,
		OccurredAt: time.Now(),
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}
