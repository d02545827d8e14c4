package reminder

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCalling   Status = "CALLING"
	StatusRetrying  Status = "RETRYING"
	StatusEscalated Status = "ESCALATED"
	StatusDone      Status = "DONE"
)

// DialableStatuses are the statuses a due reminder may be picked up from.
var DialableStatuses = []Status{StatusScheduled, StatusRetrying, StatusEscalated}

type Target string

const (
	TargetNone    Target = ""
	TargetPrimary Target = "primary"
	TargetBackup  Target = "backup"
)

type Intent string

const (
	IntentConfirm Intent = "confirm"
	IntentSnooze  Intent = "snooze"
	IntentUnknown Intent = "unknown"
)

const TranscriptMaxLen = 500

type Reminder struct {
	ID             string     `gorm:"column:id;type:varchar(36);primaryKey"                      json:"id"`
	Title          string     `gorm:"column:title;type:text;not null"                            json:"title"`
	PrimaryPhone   string     `gorm:"column:primary_phone;type:varchar(20);not null"             json:"primary_phone"`
	BackupPhone    *string    `gorm:"column:backup_phone;type:varchar(20)"                       json:"backup_phone"`
	ScheduledAt    time.Time  `gorm:"column:scheduled_at;not null"                               json:"scheduled_at"`
	NextAttemptAt  *time.Time `gorm:"column:next_attempt_at;index"                               json:"next_attempt_at"`
	Attempts       int        `gorm:"column:attempts;default:0;not null"                         json:"attempts"`
	BackupAttempts int        `gorm:"column:backup_attempts;default:0;not null"                  json:"backup_attempts"`
	Status         Status     `gorm:"column:status;type:varchar(12);default:'SCHEDULED';not null" json:"status"`
	LastTarget     Target     `gorm:"column:last_target;type:varchar(8)"                         json:"last_target"`
	LastOutcome    string     `gorm:"column:last_outcome;type:text"                              json:"last_outcome"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"                           json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"                           json:"updated_at"`
}

func (Reminder) TableName() string {
	return "reminders"
}

func (r *Reminder) HasBackup() bool {
	return r.BackupPhone != nil && *r.BackupPhone != ""
}

// DestinationFor returns the phone number behind a dial target.
func (r *Reminder) DestinationFor(target Target) string {
	if target == TargetBackup {
		if r.BackupPhone == nil {
			return ""
		}

		return *r.BackupPhone
	}

	return r.PrimaryPhone
}

type CallLog struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"              json:"id"`
	ReminderID string         `gorm:"column:reminder_id;type:varchar(36);index;not null" json:"reminder_id"`
	CallSID    string         `gorm:"column:call_sid;type:varchar(64);index"          json:"call_sid"`
	Outcome    string         `gorm:"column:outcome;type:varchar(64);not null"        json:"outcome"`
	Transcript string         `gorm:"column:transcript;type:varchar(600)"             json:"transcript"`
	Intent     Intent         `gorm:"column:intent;type:varchar(12)"                  json:"intent"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb"                       json:"payload"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"                json:"created_at"`
}

func (CallLog) TableName() string {
	return "call_logs"
}

// OutcomeKind enumerates the known shapes of a CallLog outcome tag. The tag
// itself stays an open string so new provider event types never require a
// schema change; unknown tags parse as OutcomeOther with the raw value kept.
type OutcomeKind string

const (
	OutcomeInitiated       OutcomeKind = "initiated"
	OutcomeStatus          OutcomeKind = "status"
	OutcomeGather          OutcomeKind = "gather"
	OutcomeInitiationError OutcomeKind = "initiation-error"
	OutcomeReclaimed       OutcomeKind = "reclaimed"
	OutcomeEscalated       OutcomeKind = "escalated"
	OutcomeMaxAttempts     OutcomeKind = "max_attempts"
	OutcomeOther           OutcomeKind = "other"
)

func InitiatedOutcome(target Target) string {
	return string(OutcomeInitiated) + ":" + string(target)
}

func StatusOutcome(raw string, target Target) string {
	return string(OutcomeStatus) + ":" + raw + ":" + string(target)
}

func InitiationErrorOutcome(target Target) string {
	return string(OutcomeInitiationError) + ":" + string(target)
}

func ReclaimedOutcome(target Target) string {
	return string(OutcomeReclaimed) + ":" + string(target)
}

func MaxAttemptsOutcome(target Target) string {
	return string(OutcomeMaxAttempts) + "_" + string(target)
}

// ParseOutcomeKind classifies a stored outcome tag without losing the raw string.
func ParseOutcomeKind(outcome string) OutcomeKind {
	head, _, _ := strings.Cut(outcome, ":")

	switch OutcomeKind(head) {
	case OutcomeInitiated, OutcomeStatus, OutcomeGather, OutcomeInitiationError, OutcomeReclaimed, OutcomeEscalated:
		return OutcomeKind(head)
	}

	if strings.HasPrefix(outcome, string(OutcomeMaxAttempts)) {
		return OutcomeMaxAttempts
	}

	return OutcomeOther
}
