package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/flant/compliance-sync/model"
)

// VendorUser is one record of the vendor's reconciliation snapshot.
type VendorUser struct {
	Username          string   `json:"username"`
	VisibilityProfile string   `json:"visibility_profile"`
	Groups            []string `json:"groups"`
	Active            bool     `json:"active"`
}

// Vendor is the outbound access-control integration. Implementations are
// wrapped by ResilientVendor before anything in this system calls them.
type Vendor interface {
	GetAllUsers(ctx context.Context) ([]VendorUser, error)
	GetAllGroups(ctx context.Context) ([]string, error)
	GetAllVisibilityProfiles(ctx context.Context) ([]string, error)
	CreateUser(ctx context.Context, dc *model.DesiredConfiguration) error
	UpdateUser(ctx context.Context, dc *model.DesiredConfiguration) error
}

// PermanentError marks a vendor response which must not be retried (4xx:
// the payload is invalid, the vendor is not down).
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent vendor error: status %d: %s", e.StatusCode, e.Body)
}

// RetryableError marks a failure worth retrying (network error or 5xx).
type RetryableError struct {
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable vendor error: %s", e.Err.Error())
	}
	return fmt.Sprintf("retryable vendor error: status %d", e.StatusCode)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func classifyStatus(statusCode int, body string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 400 && statusCode < 500:
		return &PermanentError{StatusCode: statusCode, Body: body}
	default:
		return &RetryableError{StatusCode: statusCode}
	}
}

// HTTPVendor talks to the vendor's REST API.
type HTTPVendor struct {
	Client  *http.Client
	BaseURL string
}

func NewHTTPVendor(baseURL string) *HTTPVendor {
	return &HTTPVendor{
		Client:  cleanhttp.DefaultPooledClient(),
		BaseURL: baseURL,
	}
}

func (c *HTTPVendor) GetAllUsers(ctx context.Context) ([]VendorUser, error) {
	var users []VendorUser
	if err := c.getJSON(ctx, "/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *HTTPVendor) GetAllGroups(ctx context.Context) ([]string, error) {
	var groups []string
	if err := c.getJSON(ctx, "/groups", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *HTTPVendor) GetAllVisibilityProfiles(ctx context.Context) ([]string, error) {
	var profiles []string
	if err := c.getJSON(ctx, "/visibility-profiles", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *HTTPVendor) CreateUser(ctx context.Context, dc *model.DesiredConfiguration) error {
	return c.sendJSON(ctx, http.MethodPost, "/users", dc)
}

// UpdateUser falls back to CreateUser when the vendor does not know the user.
func (c *HTTPVendor) UpdateUser(ctx context.Context, dc *model.DesiredConfiguration) error {
	err := c.sendJSON(ctx, http.MethodPut, "/users/"+dc.Username, dc)
	if perm, ok := err.(*PermanentError); ok && perm.StatusCode == http.StatusNotFound {
		return c.CreateUser(ctx, dc)
	}
	return err
}

func (c *HTTPVendor) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return &RetryableError{Err: err}
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, ""); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPVendor) sendJSON(ctx context.Context, method, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{StatusCode: 0, Body: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return &RetryableError{Err: err}
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode, resp.Status)
}
