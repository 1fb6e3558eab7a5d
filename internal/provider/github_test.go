package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type issueCall struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeGitHub struct {
	mu    sync.Mutex
	calls []issueCall
}

func (f *fakeGitHub) record(r *http.Request) issueCall {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	call := issueCall{Method: r.Method, Path: r.URL.Path, Body: body}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return call
}

func (f *fakeGitHub) Calls() []issueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]issueCall(nil), f.calls...)
}

func (f *fakeGitHub) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func setupGitHub(t *testing.T, handler func(f *fakeGitHub, w http.ResponseWriter, r *http.Request)) (*GitHubProvider, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(fake, w, r)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u

	return newGitHubWithClient(client, "token", "acme", "shop", nil), fake
}

func TestGitHub_IsConfigured(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.GitHubConfig
		want bool
	}{
		{"All", config.GitHubConfig{Token: "t", Owner: "o", Repo: "r"}, true},
		{"NoToken", config.GitHubConfig{Owner: "o", Repo: "r"}, false},
		{"NoOwner", config.GitHubConfig{Token: "t", Repo: "r"}, false},
		{"NoRepo", config.GitHubConfig{Token: "t", Owner: "o"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewGitHub(tc.cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.IsConfigured())
		})
	}
}

func TestGitHub_NotConfiguredIsNoop(t *testing.T) {
	p, err := NewGitHub(config.GitHubConfig{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ListTasks(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = p.CreateTask(ctx, &models.Task{Title: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, p.UpdateTask(ctx, "1", &models.Task{}), ErrNotConfigured)
	assert.ErrorIs(t, p.DeleteTask(ctx, "1"), ErrNotConfigured)
}

func TestGitHub_CreateTask(t *testing.T) {
	p, fake := setupGitHub(t, func(f *fakeGitHub, w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"number": 42, "state": "open"}`)
		case http.MethodPatch:
			fmt.Fprint(w, `{"number": 42, "state": "closed"}`)
		}
	})
	ctx := context.Background()

	id, err := p.CreateTask(ctx, &models.Task{
		ID:       "t-1",
		Title:    "Checkout total",
		Status:   models.TaskPending,
		Priority: models.PriorityHigh,
		Feature:  "Checkout",
		Tags:     []string{"urgent", "backend"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "/repos/acme/shop/issues", call.Path)
	assert.Equal(t, "Checkout total", call.Body["title"])
	assert.ElementsMatch(t, []any{"priority:high", "feature:Checkout", "tag:urgent", "tag:backend"}, call.Body["labels"])
	assert.Contains(t, call.Body["body"], "<!-- tasksync:meta v1")

	t.Run("CompletedIsClosedAfterCreate", func(t *testing.T) {
		fake.Reset()
		_, err := p.CreateTask(ctx, &models.Task{Title: "done", Status: models.TaskCompleted})
		require.NoError(t, err)
		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, http.MethodPatch, calls[1].Method)
		assert.Equal(t, "/repos/acme/shop/issues/42", calls[1].Path)
		assert.Equal(t, "closed", calls[1].Body["state"])
	})
}

func TestGitHub_CreateTaskCloseFailureKeepsNumber(t *testing.T) {
	p, _ := setupGitHub(t, func(f *fakeGitHub, w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"number": 5, "state": "open"}`)
		case http.MethodPatch:
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message": "bad gateway"}`)
		}
	})

	id, err := p.CreateTask(context.Background(), &models.Task{Title: "done", Status: models.TaskCompleted})
	require.Error(t, err)
	assert.Equal(t, "5", id)
}

func TestGitHub_UpdateAndDelete(t *testing.T) {
	p, fake := setupGitHub(t, func(f *fakeGitHub, w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"number": 7}`)
	})
	ctx := context.Background()

	require.NoError(t, p.UpdateTask(ctx, "7", &models.Task{Title: "t", Status: models.TaskCompleted}))
	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPatch, calls[0].Method)
	assert.Equal(t, "/repos/acme/shop/issues/7", calls[0].Path)
	assert.Equal(t, "closed", calls[0].Body["state"])

	require.NoError(t, p.DeleteTask(ctx, "7"))
	calls = fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "closed", calls[1].Body["state"])
	assert.NotContains(t, calls[1].Body, "title")

	assert.Error(t, p.UpdateTask(ctx, "abc", &models.Task{}))
	assert.Error(t, p.DeleteTask(ctx, "0"))
}

func TestGitHub_ListTasks(t *testing.T) {
	p, _ := setupGitHub(t, func(f *fakeGitHub, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number": 3, "title": "Third", "state": "closed", "body": ""}]`)
			return
		}
		next := fmt.Sprintf(`<http://%s%s?page=2&state=all>; rel="next"`, r.Host, r.URL.Path)
		w.Header().Set("Link", next)
		fmt.Fprint(w, `[
			{"number": 1, "title": "First", "state": "open",
			 "body": "desc\n\n<!-- tasksync:meta v1\n{\"status\":\"in_progress\",\"notes\":\"n\"}\n-->",
			 "labels": [{"name": "priority:low"}, {"name": "tag:ui"}]},
			{"number": 2, "title": "A PR", "state": "open", "pull_request": {"url": "x"}}
		]`)
	})

	tasks, err := p.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "1", tasks[0].ExternalID)
	assert.Equal(t, "desc", tasks[0].Description)
	assert.Equal(t, models.TaskInProgress, tasks[0].Status)
	assert.Equal(t, models.PriorityLow, tasks[0].Priority)
	assert.Equal(t, []string{"ui"}, tasks[0].Tags)
	assert.Equal(t, "n", tasks[0].Notes)

	assert.Equal(t, "3", tasks[1].ExternalID)
	assert.Equal(t, models.TaskCompleted, tasks[1].Status)
}

func TestGitHub_APIErrorIsReturned(t *testing.T) {
	p, _ := setupGitHub(t, func(f *fakeGitHub, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "boom"}`)
	})

	_, err := p.CreateTask(context.Background(), &models.Task{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create github issue")
}
