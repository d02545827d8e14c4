package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedReminder(t *testing.T, store *MemoryStore, mutate func(*Reminder)) *Reminder {
	t.Helper()

	now := time.Now().Add(-time.Minute)

	r := &Reminder{
		ID:            uuid.NewString(),
		Title:         "take medication",
		PrimaryPhone:  "+15550000001",
		ScheduledAt:   now,
		NextAttemptAt: &now,
		Status:        StatusScheduled,
	}

	if mutate != nil {
		mutate(r)
	}

	require.NoError(t, store.Create(context.Background(), r))

	return r
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")

	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFindDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	due := seedReminder(t, store, nil)

	seedReminder(t, store, func(r *Reminder) {
		future := time.Now().Add(time.Hour)
		r.NextAttemptAt = &future
	})
	seedReminder(t, store, func(r *Reminder) {
		r.Status = StatusCalling
	})
	seedReminder(t, store, func(r *Reminder) {
		r.NextAttemptAt = nil
	})

	found, err := store.FindDue(ctx, DialableStatuses, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, due.ID, found[0].ID)
}

func TestMemoryStoreReserveClaimsAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, nil)

	reserved, err := store.Reserve(ctx, Reservation{
		ReminderID:  r.ID,
		Target:      TargetPrimary,
		Now:         time.Now(),
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	require.True(t, reserved)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCalling, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.NextAttemptAt)
	require.Equal(t, TargetPrimary, got.LastTarget)
}

func TestMemoryStoreReserveRejectsExhaustedCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, func(r *Reminder) {
		r.Attempts = 1
	})

	reserved, err := store.Reserve(ctx, Reservation{
		ReminderID:  r.ID,
		Target:      TargetPrimary,
		Now:         time.Now(),
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	require.False(t, reserved)
}

func TestMemoryStoreReserveRejectsBackupWithoutPhone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, func(r *Reminder) {
		r.Status = StatusEscalated
	})

	reserved, err := store.Reserve(ctx, Reservation{
		ReminderID:  r.ID,
		Target:      TargetBackup,
		Now:         time.Now(),
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	require.False(t, reserved)
}

func TestMemoryStoreReserveRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, nil)

	const racers = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range racers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			reserved, err := store.Reserve(ctx, Reservation{
				ReminderID:  r.ID,
				Target:      TargetPrimary,
				Now:         time.Now(),
				MaxAttempts: 1,
			})
			require.NoError(t, err)

			if reserved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 1, wins)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)
}

func TestMemoryStoreUpdateWhereStatusGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, nil)

	matched, err := store.UpdateWhere(ctx, r.ID, []Status{StatusCalling}, map[string]any{
		FieldStatus: StatusDone,
	})
	require.NoError(t, err)
	require.False(t, matched)

	matched, err = store.UpdateWhere(ctx, r.ID, []Status{StatusScheduled}, map[string]any{
		FieldStatus: StatusDone,
	})
	require.NoError(t, err)
	require.True(t, matched)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, got.Status)
}

func TestMemoryStoreUpdateWhereAnyStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, func(r *Reminder) {
		r.Status = StatusDone
	})

	now := time.Now()

	matched, err := store.UpdateWhere(ctx, r.ID, nil, map[string]any{
		FieldStatus:        StatusScheduled,
		FieldNextAttemptAt: &now,
		FieldAttempts:      0,
	})
	require.NoError(t, err)
	require.True(t, matched)
}

func TestMemoryStoreConfirmIntentLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, nil)

	require.NoError(t, store.AppendLog(ctx, &CallLog{
		ReminderID: r.ID,
		CallSID:    "CA123",
		Outcome:    string(OutcomeGather),
		Intent:     IntentConfirm,
	}))

	found, err := store.HasConfirmIntent(ctx, r.ID, "CA123")
	require.NoError(t, err)
	require.True(t, found)

	found, err = store.HasConfirmIntent(ctx, r.ID, "CA999")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStoreTransactionSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := seedReminder(t, store, nil)

	err := store.Transaction(ctx, func(tx Store) error {
		matched, err := tx.UpdateWhere(ctx, r.ID, []Status{StatusScheduled}, map[string]any{
			FieldStatus: StatusCalling,
		})
		require.NoError(t, err)
		require.True(t, matched)

		got, err := tx.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, StatusCalling, got.Status)

		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreFindStuckCalling(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	stuck := seedReminder(t, store, func(r *Reminder) {
		r.Status = StatusCalling
		r.NextAttemptAt = nil
	})

	// Only rows untouched since the cutoff qualify.
	found, err := store.FindStuckCalling(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, stuck.ID, found[0].ID)

	found, err = store.FindStuckCalling(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, found)
}
