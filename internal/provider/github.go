package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// GitHubProvider mirrors tasks as issues of one repository.
type GitHubProvider struct {
	client *github.Client
	token  string
	owner  string
	repo   string
	logger zerolog.Logger
}

func NewGitHub(cfg config.GitHubConfig, logger *zerolog.Logger) (*GitHubProvider, error) {
	var client *github.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		client = github.NewClient(nil)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	return newGitHubWithClient(client, cfg.Token, cfg.Owner, cfg.Repo, logger), nil
}

func newGitHubWithClient(client *github.Client, token, owner, repo string, logger *zerolog.Logger) *GitHubProvider {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "github").Logger()
	}
	return &GitHubProvider{client: client, token: token, owner: owner, repo: repo, logger: l}
}

func (p *GitHubProvider) Name() string {
	return "github"
}

// IsConfigured reports whether token, owner and repository are all set.
func (p *GitHubProvider) IsConfigured() bool {
	return p.token != "" && p.owner != "" && p.repo != ""
}

func (p *GitHubProvider) ListTasks(ctx context.Context) ([]*models.Task, error) {
	if !p.IsConfigured() {
		return nil, ErrNotConfigured
	}
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var tasks []*models.Task
	for {
		issues, resp, err := p.client.Issues.ListByRepo(ctx, p.owner, p.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list github issues: %w", err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			tasks = append(tasks, taskFromGitHubIssue(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return tasks, nil
}

func (p *GitHubProvider) CreateTask(ctx context.Context, task *models.Task) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}
	fields, err := IssueFromTask(task)
	if err != nil {
		return "", err
	}
	issue, _, err := p.client.Issues.Create(ctx, p.owner, p.repo, &github.IssueRequest{
		Title:  github.String(fields.Title),
		Body:   github.String(fields.Body),
		Labels: &fields.Labels,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create github issue: %w", err)
	}
	number := issue.GetNumber()

	// Issues are always created open; a completed task needs a follow-up close. The
	// issue exists even when the close fails, so its number is returned with the error.
	if fields.State == StateClosed {
		if _, _, err := p.client.Issues.Edit(ctx, p.owner, p.repo, number, &github.IssueRequest{State: github.String(StateClosed)}); err != nil {
			return strconv.Itoa(number), fmt.Errorf("failed to close github issue #%d: %w", number, err)
		}
	}

	p.logger.Debug().Int("issue", number).Str("task_id", task.ID).Msg("GitHub issue created")
	return strconv.Itoa(number), nil
}

func (p *GitHubProvider) UpdateTask(ctx context.Context, externalID string, task *models.Task) error {
	if !p.IsConfigured() {
		return ErrNotConfigured
	}
	number, err := issueNumber(externalID)
	if err != nil {
		return err
	}
	fields, err := IssueFromTask(task)
	if err != nil {
		return err
	}
	_, _, err = p.client.Issues.Edit(ctx, p.owner, p.repo, number, &github.IssueRequest{
		Title:  github.String(fields.Title),
		Body:   github.String(fields.Body),
		State:  github.String(fields.State),
		Labels: &fields.Labels,
	})
	if err != nil {
		return fmt.Errorf("failed to update github issue #%d: %w", number, err)
	}
	return nil
}

func (p *GitHubProvider) DeleteTask(ctx context.Context, externalID string) error {
	if !p.IsConfigured() {
		return ErrNotConfigured
	}
	number, err := issueNumber(externalID)
	if err != nil {
		return err
	}
	_, _, err = p.client.Issues.Edit(ctx, p.owner, p.repo, number, &github.IssueRequest{State: github.String(StateClosed)})
	if err != nil {
		return fmt.Errorf("failed to close github issue #%d: %w", number, err)
	}
	return nil
}

func taskFromGitHubIssue(issue *github.Issue) *models.Task {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	task := TaskFromIssue(strconv.Itoa(issue.GetNumber()), issue.GetTitle(), issue.GetBody(), issue.GetState(), labels)
	task.CreatedAt = issue.GetCreatedAt().Time
	task.UpdatedAt = issue.GetUpdatedAt().Time
	return task
}

func issueNumber(externalID string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(externalID, "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid github issue number %q", externalID)
	}
	return n, nil
}
