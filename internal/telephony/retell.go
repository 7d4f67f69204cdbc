package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRetellBaseURL = "https://api.retellai.com"
	defaultRetellTimeout = 10 * time.Second
	maxProviderBody      = 64 << 10
)

type RetellConfig struct {
	APIKey     string
	AgentID    string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// RetellProvider calls the Retell create-phone-call API.
type RetellProvider struct {
	cfg  RetellConfig
	http *http.Client
}

// NewRetellProvider validates credentials up front. A nil client gets a
// default one bounded by cfg.Timeout.
func NewRetellProvider(cfg RetellConfig, client *http.Client) (*RetellProvider, error) {
	var missing []string
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		missing = append(missing, "agent id")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		missing = append(missing, "from number")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("telephony: retell config missing %s", strings.Join(missing, ", "))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRetellBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRetellTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RetellProvider{cfg: cfg, http: client}, nil
}

func (p *RetellProvider) Name() string { return "retell" }

type retellRecord struct {
	Format        string         `json:"format"`
	Storage       string         `json:"storage"`
	Transcription bool           `json:"transcription"`
	Whisper       *retellWhisper `json:"whisper,omitempty"`
}

type retellWhisper struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type retellCreateCallRequest struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	AgentID          string            `json:"agent_id"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables"`
	CustomSIPHeaders map[string]string `json:"custom_sip_headers,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Record           *retellRecord     `json:"record,omitempty"`
}

type retellCreateCallResponse struct {
	CallID     string `json:"call_id"`
	CallStatus string `json:"call_status"`
	Status     string `json:"status"`
}

func (p *RetellProvider) CreatePhoneCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return OutboundCallResult{}, p.fail(0, "encode request", "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v2/create-phone-call", bytes.NewReader(body))
	if err != nil {
		return OutboundCallResult{}, p.fail(0, "build request", "", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return OutboundCallResult{}, p.fail(0, "request timed out", "", err)
		}
		return OutboundCallResult{}, p.fail(0, "request failed", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return OutboundCallResult{}, p.fail(resp.StatusCode, "read response", "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return OutboundCallResult{}, p.fail(resp.StatusCode, "unexpected status", string(raw), nil)
	}

	var out retellCreateCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return OutboundCallResult{}, p.fail(resp.StatusCode, "decode response", string(raw), err)
	}
	if out.CallID == "" {
		return OutboundCallResult{}, p.fail(resp.StatusCode, "Missing call_id in Retell API response", string(raw), nil)
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)
	status := out.CallStatus
	if status == "" {
		status = out.Status
	}
	return OutboundCallResult{CallID: out.CallID, Status: status, Raw: rawMap}, nil
}

func (p *RetellProvider) buildRequest(req OutboundCallRequest) retellCreateCallRequest {
	leadName := req.LeadName
	if leadName == "" {
		leadName = "Customer"
	}
	vars := map[string]string{}
	for k, v := range req.DynamicVariables {
		vars[k] = v
	}
	vars["leadId"] = req.LeadID
	vars["leadName"] = leadName

	out := retellCreateCallRequest{
		FromNumber:       p.cfg.FromNumber,
		ToNumber:         req.ToNumber,
		AgentID:          p.cfg.AgentID,
		DynamicVariables: vars,
		CustomSIPHeaders: map[string]string{"X-Lead-ID": req.LeadID},
		Metadata:         req.Metadata,
	}
	if r := req.Recording; r.Enabled {
		out.Record = &retellRecord{Format: r.Format, Storage: "retell", Transcription: r.Transcription}
		if r.WhisperModel != "" {
			out.Record.Whisper = &retellWhisper{Model: r.WhisperModel, Language: r.Language, Prompt: r.Prompt}
		}
	}
	return out
}

func (p *RetellProvider) fail(status int, msg, body string, err error) *ProviderError {
	return &ProviderError{
		Provider:   p.Name(),
		StatusCode: status,
		Message:    msg,
		Detail:     providerErrorMessage(body),
		Body:       body,
		Err:        err,
	}
}

// providerErrorMessage extracts {"error": "..."} or {"error_message": "..."}.
func providerErrorMessage(body string) string {
	if body == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return ""
	}
	for _, k := range []string{"error", "error_message", "message"} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
