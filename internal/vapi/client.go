// Package vapi places and inspects reminder calls through the Vapi REST API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pathakanu/callMemo/internal/provider"
)

const maxErrorBody = 4 << 10

// Client wraps the Vapi call endpoints required by the scheduler.
type Client struct {
	baseURL    string
	privateKey string
	httpClient *http.Client
}

// New creates a Vapi client. Timeouts are expected on the request context.
func New(baseURL, privateKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		privateKey: privateKey,
		httpClient: httpClient,
	}
}

// Name identifies the adapter in logs and errors.
func (c *Client) Name() string { return "vapi" }

type createCallBody struct {
	AssistantID        string             `json:"assistantId"`
	AssistantOverrides assistantOverrides `json:"assistantOverrides"`
	Customer           customer           `json:"customer"`
	PhoneNumberID      string             `json:"phoneNumberId"`
}

type assistantOverrides struct {
	VariableValues provider.TemplateVariables `json:"variableValues"`
}

type customer struct {
	Number string `json:"number"`
}

type callResponse struct {
	ID          string     `json:"id"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	Transcript  string     `json:"transcript"`
	Cost        *float64   `json:"cost"`
	EndedReason string     `json:"endedReason"`
	Analysis    *struct {
		Summary string `json:"summary"`
	} `json:"analysis"`
}

// PlaceCall asks Vapi to dial the customer with the configured assistant.
func (c *Client) PlaceCall(ctx context.Context, req provider.PlaceCallRequest) (provider.PlaceCallResult, error) {
	if c.baseURL == "" || c.privateKey == "" {
		return provider.PlaceCallResult{}, provider.ErrNotConfigured
	}

	body := createCallBody{
		AssistantID:        req.AssistantID,
		AssistantOverrides: assistantOverrides{VariableValues: req.Variables},
		Customer:           customer{Number: req.To},
		PhoneNumberID:      req.PhoneNumberID,
	}

	var resp callResponse
	if err := c.do(ctx, http.MethodPost, "/call/phone", body, &resp, "place call"); err != nil {
		return provider.PlaceCallResult{}, err
	}
	if resp.ID == "" {
		return provider.PlaceCallResult{}, &provider.Error{Provider: c.Name(), Op: "place call", Message: "response carried no call id"}
	}
	return provider.PlaceCallResult{CallID: resp.ID}, nil
}

// FetchCallStatus returns the current state of a call by its Vapi id.
func (c *Client) FetchCallStatus(ctx context.Context, callID string) (provider.CallStatus, error) {
	if c.baseURL == "" || c.privateKey == "" {
		return provider.CallStatus{}, provider.ErrNotConfigured
	}

	var resp callResponse
	if err := c.do(ctx, http.MethodGet, "/call/"+url.PathEscape(callID), nil, &resp, "fetch call"); err != nil {
		return provider.CallStatus{}, err
	}

	status := provider.CallStatus{
		CallID:     resp.ID,
		StartedAt:  resp.StartedAt,
		EndedAt:    resp.EndedAt,
		Transcript: resp.Transcript,
		Cost:       resp.Cost,
		EndReason:  resp.EndedReason,
	}
	if resp.Analysis != nil {
		status.Summary = resp.Analysis.Summary
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, op string) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("vapi %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("vapi %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.privateKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vapi %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &provider.Error{
			Provider:   c.Name(),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("vapi %s: decode response: %w", op, err)
	}
	return nil
}
