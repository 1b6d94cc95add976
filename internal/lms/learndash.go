package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LearnDashConfig points at the LearnDash REST bridge.
type LearnDashConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LearnDash talks to the LearnDash enrollment REST endpoints.
type LearnDash struct {
	cfg    LearnDashConfig
	client *http.Client
}

func NewLearnDash(cfg LearnDashConfig) *LearnDash {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LearnDash{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *LearnDash) GrantAccess(ctx context.Context, userID, courseID string) error {
	return l.post(ctx, "/enrollments", userID, courseID)
}

func (l *LearnDash) RevokeAccess(ctx context.Context, userID, courseID string) error {
	return l.post(ctx, "/unenrollments", userID, courseID)
}

func (l *LearnDash) post(ctx context.Context, path, userID, courseID string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id":   userID,
		"course_id": courseID,
	})
	if err != nil {
		return &Error{Permanent: true, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Permanent: true, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return &Error{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already enrolled / already unenrolled: idempotent success.
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Message: fmt.Sprintf("lms unavailable (%d)", resp.StatusCode)}
	default:
		// Unknown user, unknown course, bad request: retrying cannot help.
		return &Error{Permanent: true, Message: fmt.Sprintf("rejected (%d)", resp.StatusCode)}
	}
}
