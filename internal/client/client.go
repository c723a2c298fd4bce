// Package client talks to the gateway on behalf of a test taker.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mind-engage/iti-mocktest/internal/mocktest"
)

// APIError is a non-2xx gateway reply.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: HTTP %d", e.Status)
	}
	return fmt.Sprintf("gateway: %s (HTTP %d)", e.Message, e.Status)
}

// Unwrap maps the reply code back onto the mocktest sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "already_submitted":
		return mocktest.ErrAlreadySubmitted
	case "not_started":
		return mocktest.ErrNotStarted
	case "time_up":
		return mocktest.ErrTimeUp
	case "not_found":
		return mocktest.ErrPaperNotFound
	case "forbidden":
		return mocktest.ErrNotOwner
	case "invalid":
		return mocktest.ErrInvalidRequest
	}
	return nil
}

type Client struct {
	r *resty.Client
}

func New(baseURL string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{r: r}
}

func (c *Client) SetToken(token string) { c.r.SetAuthToken(token) }

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	_ = json.Unmarshal(resp.Body(), apiErr)
	return apiErr
}

// Login exchanges offline dev credentials for a bearer token and keeps it.
func (c *Client) Login(ctx context.Context, username, password, role string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := c.req(ctx).
		SetBody(map[string]string{"username": username, "password": password, "role": role}).
		SetResult(&out).
		Post("/auth/login")
	if err := check(resp, err); err != nil {
		return "", err
	}
	c.SetToken(out.AccessToken)
	return out.AccessToken, nil
}

func (c *Client) execute(ctx context.Context, body any) (mocktest.FunctionResult, error) {
	var out mocktest.FunctionResult
	resp, err := c.req(ctx).SetBody(body).SetResult(&out).Post("/functions/mocktest/executions")
	if err := check(resp, err); err != nil {
		return out, err
	}
	if out.Error != "" {
		return out, fmt.Errorf("%s", out.Error)
	}
	return out, nil
}

func (c *Client) GenerateMockTest(ctx context.Context, p mocktest.GeneratePayload) (mocktest.FunctionResult, error) {
	return c.execute(ctx, struct {
		Action string `json:"action"`
		mocktest.GeneratePayload
	}{mocktest.ActionGenerate, p})
}

func (c *Client) CreateNewMockTest(ctx context.Context, p mocktest.ClonePayload) (mocktest.FunctionResult, error) {
	return c.execute(ctx, struct {
		Action string `json:"action"`
		mocktest.ClonePayload
	}{mocktest.ActionClone, p})
}

func (c *Client) LoadPaper(ctx context.Context, docID string) (mocktest.PaperView, error) {
	var out mocktest.PaperView
	resp, err := c.req(ctx).SetPathParam("id", docID).SetResult(&out).Get("/papers/{id}")
	return out, check(resp, err)
}

func (c *Client) StartPaper(ctx context.Context, docID string) (mocktest.PaperView, error) {
	var out mocktest.PaperView
	resp, err := c.req(ctx).SetPathParam("id", docID).SetResult(&out).Post("/papers/{id}/start")
	return out, check(resp, err)
}

func (c *Client) SaveResponses(ctx context.Context, docID string, rs []mocktest.Response) error {
	resp, err := c.req(ctx).
		SetPathParam("id", docID).
		SetBody(map[string]any{"responses": rs}).
		Put("/papers/{id}/responses")
	return check(resp, err)
}

// SubmitPaper implements session.Submitter.
func (c *Client) SubmitPaper(ctx context.Context, docID string, rs []mocktest.Response, end time.Time) (mocktest.SubmitResult, error) {
	var out mocktest.SubmitResult
	resp, err := c.req(ctx).
		SetPathParam("id", docID).
		SetBody(map[string]any{"responses": rs, "endTime": end}).
		SetResult(&out).
		Post("/papers/{id}/submit")
	return out, check(resp, err)
}

// Healthy reports whether the gateway answers /healthz.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.req(ctx).Get("/healthz")
	return err == nil && resp.StatusCode() == http.StatusOK
}
