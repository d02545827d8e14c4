package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/twilio"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type failingDialer struct{}

func (failingDialer) Initiate(ctx context.Context, params twilio.InitiateParams) (string, error) {
	return "", errors.New("provider unreachable")
}

func strPtr(s string) *string {
	return &s
}

func newFixture(t *testing.T, dialer twilio.Dialer) (*reminder.MemoryStore, *Service) {
	t.Helper()

	store := reminder.NewMemoryStore()
	policy := reminder.DefaultPolicy()
	outcomes := reminder.NewOutcomeService(store, policy, nil)

	service, err := NewService(store, policy, dialer, outcomes, 4)
	require.NoError(t, err)

	t.Cleanup(service.Close)

	return store, service
}

func seedDue(t *testing.T, store *reminder.MemoryStore, mutate func(*reminder.Reminder)) *reminder.Reminder {
	t.Helper()

	past := time.Now().Add(-time.Minute)

	r := &reminder.Reminder{
		ID:            uuid.NewString(),
		Title:         "pay the rent",
		PrimaryPhone:  "+15550000001",
		ScheduledAt:   past,
		NextAttemptAt: &past,
		Status:        reminder.StatusScheduled,
	}

	if mutate != nil {
		mutate(r)
	}

	require.NoError(t, store.Create(context.Background(), r))

	return r
}

func TestTickEmptyIsNoOp(t *testing.T) {
	_, service := newFixture(t, twilio.MockDialer{})

	summary, err := service.Tick(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, TickSummary{}, summary)
}

func TestTickDialsDueReminder(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, nil)

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.DueFound)
	require.Equal(t, 1, summary.Reserved)
	require.Equal(t, 1, summary.CallsInitiated)
	require.Zero(t, summary.Errors)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusCalling, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.NextAttemptAt)

	logs, err := store.ListLogs(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, reminder.InitiatedOutcome(reminder.TargetPrimary), logs[0].Outcome)
}

func TestTickSecondPassLeavesCallingAlone(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, nil)

	_, err := service.Tick(ctx, 10)
	require.NoError(t, err)

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, summary.DueFound)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)
}

func TestTickAutoAdvancesExhaustedReminder(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, func(r *reminder.Reminder) {
		r.Status = reminder.StatusRetrying
		r.Attempts = 1
	})

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.AutoAdvanced)
	require.Zero(t, summary.Reserved)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusDone, got.Status)
	require.Equal(t, reminder.MaxAttemptsOutcome(reminder.TargetPrimary), got.LastOutcome)
}

func TestTickEscalatesExhaustedPrimaryWithBackup(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, func(r *reminder.Reminder) {
		r.Status = reminder.StatusRetrying
		r.Attempts = 1
		r.BackupPhone = strPtr("+15550000002")
	})

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.AutoAdvanced)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusEscalated, got.Status)
	require.NotNil(t, got.NextAttemptAt)
}

func TestTickDialsBackupForEscalated(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, func(r *reminder.Reminder) {
		r.Status = reminder.StatusEscalated
		r.Attempts = 1
		r.BackupPhone = strPtr("+15550000002")
	})

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.CallsInitiated)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusCalling, got.Status)
	require.Equal(t, 1, got.BackupAttempts)
	require.Equal(t, reminder.TargetBackup, got.LastTarget)
}

func TestTickCompensatesDialFailure(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, failingDialer{})
	r := seedDue(t, store, nil)

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Reserved)
	require.Zero(t, summary.CallsInitiated)
	require.Equal(t, 1, summary.Errors)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusDone, got.Status)

	logs, err := store.ListLogs(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, reminder.InitiationErrorOutcome(reminder.TargetPrimary), logs[0].Outcome)
}

func TestConcurrentTicksDialOnce(t *testing.T) {
	ctx := context.Background()
	store, service := newFixture(t, twilio.MockDialer{})
	r := seedDue(t, store, nil)

	const ticks = 8

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		totalReserved int
	)

	for range ticks {
		wg.Add(1)

		go func() {
			defer wg.Done()

			summary, err := service.Tick(ctx, 10)
			require.NoError(t, err)

			mu.Lock()
			totalReserved += summary.Reserved
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Equal(t, 1, totalReserved)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)
}

func TestTickReclaimsStuckCalling(t *testing.T) {
	ctx := context.Background()
	store := reminder.NewMemoryStore()
	policy := reminder.DefaultPolicy()
	policy.StuckCallTimeout = -time.Second
	outcomes := reminder.NewOutcomeService(store, policy, nil)

	service, err := NewService(store, policy, twilio.MockDialer{}, outcomes, 4)
	require.NoError(t, err)

	t.Cleanup(service.Close)

	// Negative timeout disables the reclaim entirely.
	r := seedDue(t, store, func(r *reminder.Reminder) {
		r.Status = reminder.StatusCalling
		r.NextAttemptAt = nil
		r.LastTarget = reminder.TargetPrimary
		r.Attempts = 1
	})

	summary, err := service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, summary.Reclaimed)

	// With a tiny positive timeout the stuck row is rescued on the next tick.
	service.Policy.StuckCallTimeout = time.Nanosecond

	time.Sleep(10 * time.Millisecond)

	summary, err = service.Tick(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Reclaimed)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusDone, got.Status)
}
