package twilio

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathakanu/callMemo/internal/provider"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	// Twilio renders call timestamps in RFC 2822 form.
	twilioTimeLayout = time.RFC1123Z
	defaultGreeting  = "Hi there"
)

// callAPI is the subset of the Twilio REST service used by the adapter.
type callAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
}

// Client places reminder calls through Twilio's programmable voice API.
//
// Twilio has no assistant runtime, so the template variables are rendered into
// a spoken script and answering-machine detection stands in for call analysis.
type Client struct {
	api        callAPI
	fromNumber string

	// greeting opens every script; it is the only transcript Twilio can vouch for.
	greeting string
}

// New creates a Twilio client bound to the configured caller number. greeting
// must be the fragment the reconciler looks for in a human-answered transcript.
func New(accountSID, authToken, fromNumber, greeting string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return &Client{
		api:        rest.Api,
		fromNumber: fromNumber,
		greeting:   greeting,
	}
}

// Name identifies the adapter in logs and errors.
func (c *Client) Name() string { return "twilio" }

// PlaceCall dials the callee and speaks the reminder script once answered.
func (c *Client) PlaceCall(ctx context.Context, req provider.PlaceCallRequest) (provider.PlaceCallResult, error) {
	if c.api == nil {
		return provider.PlaceCallResult{}, provider.ErrNotConfigured
	}

	sender := normalizeVoiceNumber(c.fromNumber)
	if sender == "" {
		return provider.PlaceCallResult{}, fmt.Errorf("twilio caller number is not configured")
	}
	recipient := normalizeVoiceNumber(req.To)
	if recipient == "" {
		return provider.PlaceCallResult{}, fmt.Errorf("recipient number missing or invalid")
	}

	twiml, err := renderTwiML(Script(c.spokenGreeting(), req.Variables))
	if err != nil {
		return provider.PlaceCallResult{}, fmt.Errorf("twilio render script: %w", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetTwiml(twiml)
	params.SetMachineDetection("Enable")

	resp, err := withContext(ctx, func() (*openapi.ApiV2010Call, error) { return c.api.CreateCall(params) })
	if err != nil {
		return provider.PlaceCallResult{}, fmt.Errorf("twilio create call: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return provider.PlaceCallResult{}, &provider.Error{Provider: c.Name(), Op: "place call", Message: "response carried no call sid"}
	}
	return provider.PlaceCallResult{CallID: *resp.Sid}, nil
}

// FetchCallStatus maps a Twilio call resource onto the provider-agnostic status.
// Only calls a human answered carry a transcript and summary.
func (c *Client) FetchCallStatus(ctx context.Context, callID string) (provider.CallStatus, error) {
	if c.api == nil {
		return provider.CallStatus{}, provider.ErrNotConfigured
	}

	call, err := withContext(ctx, func() (*openapi.ApiV2010Call, error) {
		return c.api.FetchCall(callID, &openapi.FetchCallParams{})
	})
	if err != nil {
		return provider.CallStatus{}, fmt.Errorf("twilio fetch call: %w", err)
	}
	if call == nil {
		return provider.CallStatus{}, &provider.Error{Provider: c.Name(), Op: "fetch call", Message: "empty response"}
	}

	status := provider.CallStatus{
		CallID:    callID,
		StartedAt: parseTwilioTime(call.StartTime),
		EndedAt:   parseTwilioTime(call.EndTime),
		EndReason: deref(call.Status),
	}
	if price := deref(call.Price); price != "" {
		if v, err := strconv.ParseFloat(price, 64); err == nil {
			// Twilio reports charges as negative amounts.
			if v < 0 {
				v = -v
			}
			status.Cost = &v
		}
	}
	if deref(call.Status) == "completed" && deref(call.AnsweredBy) == "human" {
		status.Transcript = c.spokenGreeting()
		status.Summary = "Reminder delivered to a person."
	}
	return status, nil
}

func (c *Client) spokenGreeting() string {
	if g := strings.TrimSpace(c.greeting); g != "" {
		return g
	}
	return defaultGreeting
}

// Script renders the words spoken to the callee.
func Script(greeting string, v provider.TemplateVariables) string {
	var sb strings.Builder
	sb.WriteString(greeting)
	if v.CustomerName != "" {
		sb.WriteString(" ")
		sb.WriteString(v.CustomerName)
	}
	sb.WriteString(". This is your reminder call")
	if v.Time != "" {
		sb.WriteString(" scheduled ")
		sb.WriteString(v.Time)
	}
	sb.WriteString(". ")
	switch {
	case v.ReminderSentence != "":
		sb.WriteString(v.ReminderSentence)
	case v.ReminderSummary != "":
		sb.WriteString(v.ReminderSummary)
	}
	return strings.TrimSpace(sb.String())
}

func renderTwiML(script string) (string, error) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Say     string   `xml:"Say"`
	}{
		Say: script,
	}
	out, err := xml.Marshal(twiml)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// withContext runs a blocking SDK call and gives up when ctx ends. The SDK
// call itself keeps running in the background until its HTTP client returns.
func withContext(ctx context.Context, fn func() (*openapi.ApiV2010Call, error)) (*openapi.ApiV2010Call, error) {
	type result struct {
		call *openapi.ApiV2010Call
		err  error
	}
	done := make(chan result, 1)
	go func() {
		call, err := fn()
		done <- result{call: call, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.call, res.err
	}
}

func parseTwilioTime(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := time.Parse(twilioTimeLayout, *value)
	if err != nil {
		return nil
	}
	return &t
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func normalizeVoiceNumber(number string) string {
	trimmed := provider.NormalizePhone(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return trimmed
	}
	return "+" + trimmed
}
