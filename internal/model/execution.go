package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionStatus is the lifecycle state of a single call attempt.
type ExecutionStatus string

const (
	StatusPending       ExecutionStatus = "pending"
	StatusCallMade      ExecutionStatus = "call-made"
	StatusCallError     ExecutionStatus = "call-error"
	StatusCallNotTaken  ExecutionStatus = "call-not-taken"
	StatusCallCompleted ExecutionStatus = "call-completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCallError, StatusCallNotTaken, StatusCallCompleted:
		return true
	default:
		return false
	}
}

// Description returns a human readable explanation of the status.
func (s ExecutionStatus) Description() string {
	switch s {
	case StatusPending:
		return "Call is scheduled but not yet executed"
	case StatusCallMade:
		return "Call has been initiated but outcome is unknown"
	case StatusCallError:
		return "Error occurred during call execution"
	case StatusCallNotTaken:
		return "Call was made but not answered/taken by recipient"
	case StatusCallCompleted:
		return "Call was completed successfully"
	default:
		return ""
	}
}

// ReminderSnapshot is the reminder state captured when an attempt starts.
type ReminderSnapshot struct {
	Title           string     `json:"title"`
	CalleeName      string     `json:"calleeName"`
	PhoneNumber     string     `json:"phoneNumber"`
	Recurrence      Recurrence `json:"recurrence"`
	ScheduledHour   int        `json:"hour"`
	ScheduledMinute int        `json:"minutes"`
	CallPurpose     string     `json:"callPurpose,omitempty"`
	PurposeSummary  string     `json:"callPurposeSummary,omitempty"`
}

// Execution is one ledger entry: a single attempt to carry out a reminder.
//
// Once Status is terminal the row is never updated again.
type Execution struct {
	ID                  string                                `gorm:"primaryKey;size:36"`
	ReminderID          string                                `gorm:"size:36;not null;index:idx_executions_reminder_attempted,priority:1"`
	UserID              string                                `gorm:"not null;index:idx_executions_user_attempted,priority:1"`
	AttemptedAt         time.Time                             `gorm:"not null;index:idx_executions_reminder_attempted,priority:2;index:idx_executions_user_attempted,priority:2"`
	Status              ExecutionStatus                       `gorm:"size:32;not null;index"`
	ExternalCallID      *string                               `gorm:"size:128"`
	ErrorMessage        *string                               `gorm:"type:text"`
	ReminderSnapshot    datatypes.JSONType[ReminderSnapshot]
	CallWasTaken        *bool
	CallSummary         *string                               `gorm:"type:text"`
	CallDurationSeconds *int
	CallCost            *float64
	EndReason           *string
	CreatedAt           time.Time                             `gorm:"autoCreateTime"`
	UpdatedAt           time.Time                             `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a random identifier when none was supplied.
func (e *Execution) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Snapshot returns the reminder state captured at attempt time.
func (e Execution) Snapshot() ReminderSnapshot {
	return e.ReminderSnapshot.Data()
}
