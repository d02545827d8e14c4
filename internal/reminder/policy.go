package reminder

import "time"

// Policy carries the scheduling thresholds as an immutable value so engines
// never read ambient configuration and tests can vary thresholds per case.
type Policy struct {
	MaxPrimaryAttempts int
	MaxBackupAttempts  int
	RetryDelay         time.Duration
	SnoozeDelay        time.Duration

	// StuckCallTimeout reclaims reminders left in CALLING when the provider
	// never delivers a terminal status. Zero disables the reclaim.
	StuckCallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPrimaryAttempts: 1,
		MaxBackupAttempts:  1,
		RetryDelay:         time.Minute,
		SnoozeDelay:        time.Hour,
		StuckCallTimeout:   10 * time.Minute,
	}
}

// MaxAttemptsFor returns the attempt budget for a dial target.
func (p Policy) MaxAttemptsFor(target Target) int {
	if target == TargetBackup {
		return p.MaxBackupAttempts
	}

	return p.MaxPrimaryAttempts
}

// PickTarget decides which phone should be dialed next for a reminder, or
// TargetNone when nothing is left to try and the caller must finalize.
// Pure and total: identical inputs always yield the same answer.
func (p Policy) PickTarget(r *Reminder) Target {
	if r.Status == StatusEscalated {
		if r.HasBackup() && r.BackupAttempts < p.MaxBackupAttempts {
			return TargetBackup
		}

		return TargetNone
	}

	if r.Attempts < p.MaxPrimaryAttempts {
		return TargetPrimary
	}

	return TargetNone
}
