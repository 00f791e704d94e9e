// Package clients provides typed HTTP clients for the guardian signing API.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub020/api/guardian"
	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// APIError is a classified error returned by the guardian API.
type APIError struct {
	StatusCode int
	Code       interfaces.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("guardian api: %s (code=%s, http=%d)", e.Message, e.Code, e.StatusCode)
}

// GuardianClient calls the guardian signing coordinator API.
type GuardianClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGuardianClient creates a client for the guardian API.
//
// Parameters:
//   - baseURL: The base URL of the API (e.g., "http://localhost:8080")
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewGuardianClient(baseURL string, timeout ...time.Duration) *GuardianClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &GuardianClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

func (c *GuardianClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("request failed with code %d", resp.StatusCode)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       interfaces.ErrorCode(apiErr.Code),
			Message:    apiErr.Error,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// CreateSession starts a threshold signing session.
func (c *GuardianClient) CreateSession(ctx context.Context, req guardian.CreateSessionRequest) (*guardian.SessionResponse, error) {
	var resp guardian.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession returns the current state of a session.
func (c *GuardianClient) GetSession(ctx context.Context, sessionID string) (*guardian.SessionResponse, error) {
	var resp guardian.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitCommitment records a participant's round-1 nonce commitment.
func (c *GuardianClient) SubmitCommitment(ctx context.Context, sessionID, participant, valueHex string) (*guardian.SessionResponse, error) {
	var resp guardian.SessionResponse
	path := fmt.Sprintf("/api/v1/sessions/%s/commitments", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, path, guardian.SubmitValueRequest{Participant: participant, Value: valueHex}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitPartial records a participant's round-2 partial signature.
func (c *GuardianClient) SubmitPartial(ctx context.Context, sessionID, participant, valueHex string) (*guardian.SessionResponse, error) {
	var resp guardian.SessionResponse
	path := fmt.Sprintf("/api/v1/sessions/%s/partials", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, path, guardian.SubmitValueRequest{Participant: participant, Value: valueHex}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Aggregate combines the collected partial signatures.
func (c *GuardianClient) Aggregate(ctx context.Context, sessionID string) (*guardian.SessionResponse, error) {
	var resp guardian.SessionResponse
	path := fmt.Sprintf("/api/v1/sessions/%s/aggregate", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FailSession moves a session to the failed state.
func (c *GuardianClient) FailSession(ctx context.Context, sessionID, reason string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/fail", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, path, guardian.FailRequestBody{Reason: reason}, nil)
}

// CreateRequest starts a one-round reconstruction signing request.
func (c *GuardianClient) CreateRequest(ctx context.Context, req guardian.CreateReconstructionRequest) (*guardian.RequestResponse, error) {
	var resp guardian.RequestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/requests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRequest returns the current state of a reconstruction request.
func (c *GuardianClient) GetRequest(ctx context.Context, requestID string) (*guardian.RequestResponse, error) {
	var resp guardian.RequestResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/requests/"+url.PathEscape(requestID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitShare submits a guardian's key share for a reconstruction request.
func (c *GuardianClient) SubmitShare(ctx context.Context, requestID, guardianID string, index int, shareHex string) (*guardian.RequestResponse, error) {
	var resp guardian.RequestResponse
	path := fmt.Sprintf("/api/v1/requests/%s/shares", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, path, guardian.SubmitShareRequest{Guardian: guardianID, Index: index, Value: shareHex}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// FailRequest moves a reconstruction request to the failed state.
func (c *GuardianClient) FailRequest(ctx context.Context, requestID, reason string) error {
	path := fmt.Sprintf("/api/v1/requests/%s/fail", url.PathEscape(requestID))
	return c.do(ctx, http.MethodPost, path, guardian.FailRequestBody{Reason: reason}, nil)
}

// GetRecommendation returns the signing strategy for a use case. Pass an
// empty override to accept the policy default.
func (c *GuardianClient) GetRecommendation(ctx context.Context, useCase, override string) (*guardian.RecommendationResponse, error) {
	q := url.Values{}
	q.Set("use_case", useCase)
	if override != "" {
		q.Set("override", override)
	}

	var resp guardian.RecommendationResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/policy/recommendation?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSchedule registers a user for periodic key rotation.
func (c *GuardianClient) CreateSchedule(ctx context.Context, req guardian.CreateScheduleRequest) (*guardian.ScheduleResponse, error) {
	var resp guardian.ScheduleResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSchedule returns a rotation schedule by id.
func (c *GuardianClient) GetSchedule(ctx context.Context, scheduleID string) (*guardian.ScheduleResponse, error) {
	var resp guardian.ScheduleResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules/"+url.PathEscape(scheduleID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUserSchedule returns the rotation schedule registered for a user.
func (c *GuardianClient) GetUserSchedule(ctx context.Context, userID string) (*guardian.ScheduleResponse, error) {
	var resp guardian.ScheduleResponse
	path := fmt.Sprintf("/api/v1/users/%s/schedule", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateRotationInterval changes a schedule's rotation interval.
func (c *GuardianClient) UpdateRotationInterval(ctx context.Context, scheduleID string, intervalDays int) (*guardian.ScheduleResponse, error) {
	var resp guardian.ScheduleResponse
	path := fmt.Sprintf("/api/v1/schedules/%s/interval", url.PathEscape(scheduleID))
	err := c.do(ctx, http.MethodPut, path, guardian.UpdateIntervalRequest{IntervalDays: intervalDays}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetScheduleEnabled enables or disables a rotation schedule.
func (c *GuardianClient) SetScheduleEnabled(ctx context.Context, scheduleID string, enabled bool) (*guardian.ScheduleResponse, error) {
	var resp guardian.ScheduleResponse
	path := fmt.Sprintf("/api/v1/schedules/%s/enabled", url.PathEscape(scheduleID))
	err := c.do(ctx, http.MethodPut, path, guardian.SetEnabledRequest{Enabled: enabled}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRotationReport returns the audit report for a rotation.
func (c *GuardianClient) GetRotationReport(ctx context.Context, rotationID string) (*guardian.RotationReportResponse, error) {
	var resp guardian.RotationReportResponse
	path := fmt.Sprintf("/api/v1/rotations/%s/report", url.PathEscape(rotationID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
