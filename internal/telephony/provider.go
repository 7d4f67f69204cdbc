package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Provider places outbound calls. Implementations hold their own credentials
// and perform no persistence.
type Provider interface {
	Name() string
	CreatePhoneCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest is the provider-agnostic outbound call request.
// The origin number and agent come from provider configuration.
type OutboundCallRequest struct {
	ToNumber string
	LeadID   string
	LeadName string

	// DynamicVariables personalize the agent prompt; leadId and leadName are always set.
	DynamicVariables map[string]string
	// Metadata is echoed back by the provider on webhooks.
	Metadata map[string]string

	Recording RecordingOptions
}

type RecordingOptions struct {
	Enabled       bool
	Format        string
	Transcription bool
	WhisperModel  string
	Language      string
	Prompt        string
}

// DefaultRecording returns the options used for lead calls.
func DefaultRecording(leadName string) RecordingOptions {
	if leadName == "" {
		leadName = "a customer"
	}
	return RecordingOptions{
		Enabled:       true,
		Format:        "mp3",
		Transcription: true,
		WhisperModel:  "whisper-1",
		Language:      "en",
		Prompt:        fmt.Sprintf("This is a sales call with %s.", leadName),
	}
}

type OutboundCallResult struct {
	CallID string
	Status string
	Raw    map[string]any
}

// ErrProviderRequestFailed matches every *ProviderError via errors.Is.
var ErrProviderRequestFailed = errors.New("telephony: provider request failed")

// ProviderError describes a failed outbound call request. StatusCode is 0 when
// no HTTP response was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	// Detail is the provider's error message when the body carried one.
	Detail string
	Body   string
	Err    error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderRequestFailed }

// Details is the client-facing failure reason: the provider's message when
// present, else ours.
func (e *ProviderError) Details() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}
