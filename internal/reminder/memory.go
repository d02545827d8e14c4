package reminder

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store used by unit tests and local runs
// without Postgres. It honors the same conditional-update predicates as the
// gorm Repository so reservation races behave identically.
type MemoryStore struct {
	mu        sync.Mutex
	reminders map[string]*Reminder
	logs      []CallLog
	nextLogID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[string]*Reminder),
		nextLogID: 1,
	}
}

func (m *MemoryStore) Create(ctx context.Context, r *Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.create(r)
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.get(id)
}

func (m *MemoryStore) List(ctx context.Context) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.list()
}

func (m *MemoryStore) FindDue(
	ctx context.Context,
	statuses []Status,
	now time.Time,
	limit int,
) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.findDue(statuses, now, limit)
}

func (m *MemoryStore) FindStuckCalling(ctx context.Context, cutoff time.Time, limit int) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.findStuckCalling(cutoff, limit)
}

func (m *MemoryStore) Reserve(ctx context.Context, rsv Reservation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reserve(rsv)
}

func (m *MemoryStore) UpdateWhere(
	ctx context.Context,
	id string,
	expected []Status,
	fields map[string]any,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updateWhere(id, expected, fields)
}

func (m *MemoryStore) AppendLog(ctx context.Context, log *CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendLog(log)
}

func (m *MemoryStore) HasConfirmIntent(ctx context.Context, reminderID, callSID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hasConfirmIntent(reminderID, callSID)
}

func (m *MemoryStore) ListLogs(ctx context.Context, reminderID string) ([]CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.listLogs(reminderID)
}

// Transaction holds the lock for the whole callback, which gives fn the same
// isolation a database transaction would. fn receives an unlocked view so it
// can call Store methods without deadlocking on the re-entrant mutex.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fn(&memoryTx{store: m})
}

func (m *MemoryStore) create(r *Reminder) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	r.UpdatedAt = now

	cp := *r
	m.reminders[r.ID] = &cp

	return nil
}

func (m *MemoryStore) get(id string) (*Reminder, error) {
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *r

	return &cp, nil
}

func (m *MemoryStore) list() ([]Reminder, error) {
	reminders := make([]Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		reminders = append(reminders, *r)
	}

	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].CreatedAt.After(reminders[j].CreatedAt)
	})

	return reminders, nil
}

func (m *MemoryStore) findDue(statuses []Status, now time.Time, limit int) ([]Reminder, error) {
	var due []Reminder

	for _, r := range m.reminders {
		if !statusIn(r.Status, statuses) {
			continue
		}

		if r.NextAttemptAt == nil || r.NextAttemptAt.After(now) {
			continue
		}

		due = append(due, *r)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (m *MemoryStore) findStuckCalling(cutoff time.Time, limit int) ([]Reminder, error) {
	var stuck []Reminder

	for _, r := range m.reminders {
		if r.Status != StatusCalling || r.UpdatedAt.After(cutoff) {
			continue
		}

		stuck = append(stuck, *r)
	}

	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
	})

	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}

	return stuck, nil
}

func (m *MemoryStore) reserve(rsv Reservation) (bool, error) {
	r, ok := m.reminders[rsv.ReminderID]
	if !ok {
		return false, nil
	}

	if !statusIn(r.Status, DialableStatuses) {
		return false, nil
	}

	if r.NextAttemptAt == nil || r.NextAttemptAt.After(rsv.Now) {
		return false, nil
	}

	switch rsv.Target {
	case TargetPrimary:
		if r.Attempts >= rsv.MaxAttempts {
			return false, nil
		}

		r.Attempts++
	case TargetBackup:
		if r.BackupAttempts >= rsv.MaxAttempts || !r.HasBackup() {
			return false, nil
		}

		r.BackupAttempts++
	default:
		return false, ErrInvalidTarget
	}

	r.Status = StatusCalling
	r.NextAttemptAt = nil
	r.LastTarget = rsv.Target
	r.LastOutcome = rsv.Note
	r.UpdatedAt = time.Now()

	return true, nil
}

func (m *MemoryStore) updateWhere(id string, expected []Status, fields map[string]any) (bool, error) {
	r, ok := m.reminders[id]
	if !ok {
		return false, nil
	}

	if len(expected) > 0 && !statusIn(r.Status, expected) {
		return false, nil
	}

	for key, value := range fields {
		switch key {
		case FieldStatus:
			r.Status = value.(Status)
		case FieldNextAttemptAt:
			if value == nil {
				r.NextAttemptAt = nil
			} else {
				r.NextAttemptAt = value.(*time.Time)
			}
		case FieldAttempts:
			r.Attempts = value.(int)
		case FieldBackupAttempts:
			r.BackupAttempts = value.(int)
		case FieldLastOutcome:
			r.LastOutcome = value.(string)
		case FieldLastTarget:
			r.LastTarget = value.(Target)
		}
	}

	r.UpdatedAt = time.Now()

	return true, nil
}

func (m *MemoryStore) appendLog(log *CallLog) error {
	log.ID = m.nextLogID
	m.nextLogID++

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	m.logs = append(m.logs, *log)

	return nil
}

func (m *MemoryStore) hasConfirmIntent(reminderID, callSID string) (bool, error) {
	for _, log := range m.logs {
		if log.ReminderID == reminderID && log.CallSID == callSID && log.Intent == IntentConfirm {
			return true, nil
		}
	}

	return false, nil
}

func (m *MemoryStore) listLogs(reminderID string) ([]CallLog, error) {
	var logs []CallLog

	for _, log := range m.logs {
		if log.ReminderID == reminderID {
			logs = append(logs, log)
		}
	}

	return logs, nil
}

// memoryTx delegates to the store's unexported methods while the transaction
// holds the lock.
type memoryTx struct {
	store *MemoryStore
}

func (tx *memoryTx) Create(ctx context.Context, r *Reminder) error {
	return tx.store.create(r)
}

func (tx *memoryTx) Get(ctx context.Context, id string) (*Reminder, error) {
	return tx.store.get(id)
}

func (tx *memoryTx) List(ctx context.Context) ([]Reminder, error) {
	return tx.store.list()
}

func (tx *memoryTx) FindDue(ctx context.Context, statuses []Status, now time.Time, limit int) ([]Reminder, error) {
	return tx.store.findDue(statuses, now, limit)
}

func (tx *memoryTx) FindStuckCalling(ctx context.Context, cutoff time.Time, limit int) ([]Reminder, error) {
	return tx.store.findStuckCalling(cutoff, limit)
}

func (tx *memoryTx) Reserve(ctx context.Context, rsv Reservation) (bool, error) {
	return tx.store.reserve(rsv)
}

func (tx *memoryTx) UpdateWhere(ctx context.Context, id string, expected []Status, fields map[string]any) (bool, error) {
	return tx.store.updateWhere(id, expected, fields)
}

func (tx *memoryTx) AppendLog(ctx context.Context, log *CallLog) error {
	return tx.store.appendLog(log)
}

func (tx *memoryTx) HasConfirmIntent(ctx context.Context, reminderID, callSID string) (bool, error) {
	return tx.store.hasConfirmIntent(reminderID, callSID)
}

func (tx *memoryTx) ListLogs(ctx context.Context, reminderID string) ([]CallLog, error) {
	return tx.store.listLogs(reminderID)
}

func (tx *memoryTx) Transaction(ctx context.Context, fn func(Store) error) error {
	return fn(tx)
}

func statusIn(status Status, statuses []Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}

	return false
}
