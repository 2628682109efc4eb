package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recurrence controls how often a reminder becomes due again.
type Recurrence string

const (
	RecurrenceOneTime Recurrence = "one-time"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Valid reports whether r is one of the known recurrence values.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceOneTime, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// Reminder represents a scheduled recurring call placed on behalf of a user.
type Reminder struct {
	ID                 string     `gorm:"primaryKey;size:36"`
	UserID             string     `gorm:"index;not null"`
	Title              string     `gorm:"not null"`
	InternalLabel      string
	CallPurpose        string     `gorm:"type:text"`
	CallPurposeSummary string     `gorm:"type:text"`
	CalleeName         string     `gorm:"not null"`
	PhoneNumber        string     `gorm:"index;not null"`
	ScheduledHour      int        `gorm:"index:idx_reminders_schedule,priority:1;not null"`
	ScheduledMinute    int        `gorm:"index:idx_reminders_schedule,priority:2;not null"`
	Recurrence         Recurrence `gorm:"size:16"`
	IsActive           bool       `gorm:"index;not null"`
	LastExecutedAt     *time.Time
	ExecutionCount     int        `gorm:"not null;default:0"`
	CallsTakenCount    int        `gorm:"not null;default:0"`
	CallsNotTakenCount int        `gorm:"not null;default:0"`
	CallsErrorCount    int        `gorm:"not null;default:0"`
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a random identifier when none was supplied.
func (r *Reminder) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Snapshot copies the fields that must survive later edits into an execution record.
func (r Reminder) Snapshot() ReminderSnapshot {
	return ReminderSnapshot{
		Title:           r.Title,
		CalleeName:      r.CalleeName,
		PhoneNumber:     r.PhoneNumber,
		Recurrence:      r.Recurrence,
		ScheduledHour:   r.ScheduledHour,
		ScheduledMinute: r.ScheduledMinute,
		CallPurpose:     r.CallPurpose,
		PurposeSummary:  r.CallPurposeSummary,
	}
}
