package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tasksync/internal/models"
)

// HubProvider pushes tasks to a hub instance through its /api/v1/tasks API.
type HubProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHub(baseURL, apiKey string) *HubProvider {
	return &HubProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HubProvider) Name() string {
	return "hub"
}

func (c *HubProvider) IsConfigured() bool {
	return c.baseURL != ""
}

// HTTPError is a non-2xx hub response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("hub %s %s: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type hubTaskEnvelope struct {
	Task *models.Task `json:"task"`
}

type hubTaskList struct {
	Tasks []*models.Task `json:"tasks"`
}

func (c *HubProvider) ListTasks(ctx context.Context) ([]*models.Task, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	var wrap hubTaskList
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/tasks", nil, &wrap); err != nil {
		return nil, err
	}
	return wrap.Tasks, nil
}

func (c *HubProvider) CreateTask(ctx context.Context, task *models.Task) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}
	var wrap hubTaskEnvelope
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/tasks", outgoing(task), &wrap); err != nil {
		return "", err
	}
	if wrap.Task == nil || wrap.Task.ID == "" {
		return "", fmt.Errorf("hub returned no task id")
	}
	return wrap.Task.ID, nil
}

func (c *HubProvider) UpdateTask(ctx context.Context, externalID string, task *models.Task) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	return c.do(ctx, http.MethodPut, c.taskURL(externalID), outgoing(task), nil)
}

// outgoing copies the task without its external id. Locally that field holds the hub
// id, while the hub keeps its own provider id there.
func outgoing(task *models.Task) *models.Task {
	if task == nil {
		return nil
	}
	out := *task
	out.ExternalID = ""
	return &out
}

// DeleteTask treats an already missing hub task as deleted.
func (c *HubProvider) DeleteTask(ctx context.Context, externalID string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	err := c.do(ctx, http.MethodDelete, c.taskURL(externalID), nil, nil)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *HubProvider) taskURL(id string) string {
	return fmt.Sprintf("%s/api/v1/tasks/%s", c.baseURL, url.PathEscape(id))
}

func (c *HubProvider) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode hub request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode hub response: %w", err)
	}
	return nil
}
