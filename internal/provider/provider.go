// Package provider defines the provider-agnostic voice call contract.
//
// Rules:
//   - No provider SDK or HTTP calls outside the adapter packages.
//   - Request and response types stay provider-agnostic.
package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNotConfigured is returned when an adapter lacks credentials or a client.
var ErrNotConfigured = errors.New("provider: not configured")

// CallPlacer places outbound reminder calls.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

// CallStatusFetcher looks up the outcome of a previously placed call.
type CallStatusFetcher interface {
	FetchCallStatus(ctx context.Context, callID string) (CallStatus, error)
}

// Provider is implemented by every voice call adapter.
type Provider interface {
	Name() string
	CallPlacer
	CallStatusFetcher
}

// PlaceCallRequest carries everything needed to dial a reminder.
type PlaceCallRequest struct {
	// AssistantID selects the conversation template at the provider.
	AssistantID string
	// Variables are substituted into the assistant template.
	Variables TemplateVariables
	// To is the destination number with whitespace removed.
	To string
	// PhoneNumberID identifies the originating number at the provider.
	PhoneNumberID string
}

// TemplateVariables are the per-call values the assistant speaks.
type TemplateVariables struct {
	CustomerName     string `json:"customerName"`
	ReminderSummary  string `json:"reminderSummary"`
	Time             string `json:"time"`
	ReminderSentence string `json:"reminderSentence"`
}

// PlaceCallResult is returned when the provider accepted the call.
type PlaceCallResult struct {
	CallID string
}

// CallStatus is the provider's view of a call after it was placed.
type CallStatus struct {
	CallID     string
	StartedAt  *time.Time
	EndedAt    *time.Time
	Summary    string
	Transcript string
	Cost       *float64
	EndReason  string
}

// Error describes a rejected or failed provider request.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

var callIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidCallID reports whether id looks like an identifier a provider could have issued.
func ValidCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

// NormalizePhone strips all whitespace from a phone number.
func NormalizePhone(number string) string {
	return strings.Join(strings.Fields(number), "")
}
