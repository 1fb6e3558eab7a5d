package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"tasksync/internal/models"
)

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Label prefixes.
const (
	LabelPriority = "priority:"
	LabelFeature  = "feature:"
	LabelVersion  = "version:"
	LabelTag      = "tag:"
)

const metaVersion = 1

var statusToState = map[models.TaskStatus]string{
	models.TaskPending:    StateOpen,
	models.TaskInProgress: StateOpen,
	models.TaskCompleted:  StateClosed,
	models.TaskCancelled:  StateOpen,
}

var stateToStatus = map[string]models.TaskStatus{
	StateOpen:   models.TaskPending,
	StateClosed: models.TaskCompleted,
}

// metaBlock matches the embedded metadata comment, including the blank lines before it.
var metaBlock = regexp.MustCompile(`(?s)\s*<!-- tasksync:meta v(\d+)\r?\n(.*?)\r?\n-->\s*`)

// Metadata carries task fields that have no label representation.
type Metadata struct {
	Status         models.TaskStatus `json:"status,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	ActualHours    *float64          `json:"actual_hours,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

func (m Metadata) empty() bool {
	return m.Status == "" && m.EstimatedHours == nil && m.ActualHours == nil && m.Notes == ""
}

// StateForStatus maps an internal status to an issue state. Only completed closes.
func StateForStatus(s models.TaskStatus) string {
	if state, ok := statusToState[s]; ok {
		return state
	}
	return StateOpen
}

// StatusForState maps an issue state back, letting an open issue's metadata override it.
func StatusForState(state string, meta Metadata) models.TaskStatus {
	status, ok := stateToStatus[strings.ToLower(state)]
	if !ok {
		status = models.TaskPending
	}
	if status == models.TaskPending && meta.Status.Valid() {
		return meta.Status
	}
	return status
}

// Labels encodes priority, feature, version and tags.
func Labels(task *models.Task) []string {
	labels := make([]string, 0, len(task.Tags)+3)
	if task.Priority != "" {
		labels = append(labels, LabelPriority+string(task.Priority))
	}
	if task.Feature != "" {
		labels = append(labels, LabelFeature+task.Feature)
	}
	if task.Version != "" {
		labels = append(labels, LabelVersion+task.Version)
	}
	for _, tag := range task.Tags {
		if tag != "" {
			labels = append(labels, LabelTag+tag)
		}
	}
	return labels
}

// applyLabels decodes prefixed labels into task. Unprefixed labels are ignored.
func applyLabels(task *models.Task, labels []string) {
	for _, label := range labels {
		switch {
		case strings.HasPrefix(label, LabelPriority):
			if p, err := models.ParsePriority(strings.TrimPrefix(label, LabelPriority)); err == nil {
				task.Priority = p
			}
		case strings.HasPrefix(label, LabelFeature):
			task.Feature = strings.TrimPrefix(label, LabelFeature)
		case strings.HasPrefix(label, LabelVersion):
			task.Version = strings.TrimPrefix(label, LabelVersion)
		case strings.HasPrefix(label, LabelTag):
			task.Tags = append(task.Tags, strings.TrimPrefix(label, LabelTag))
		}
	}
}

// MetadataFor extracts the non-label fields of task.
func MetadataFor(task *models.Task) Metadata {
	return Metadata{
		Status:         task.Status,
		EstimatedHours: task.EstimatedHours,
		ActualHours:    task.ActualHours,
		Notes:          task.Notes,
	}
}

// EncodeBody appends the metadata block to the visible description.
func EncodeBody(description string, meta Metadata) (string, error) {
	description = strings.TrimRight(description, "\n ")
	if meta.empty() {
		return description, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	block := fmt.Sprintf("<!-- tasksync:meta v%d\n%s\n-->", metaVersion, data)
	if description == "" {
		return block, nil
	}
	return description + "\n\n" + block, nil
}

// DecodeBody strips the metadata block and parses it. Blocks of an unknown version or
// with invalid JSON are stripped and ignored.
func DecodeBody(body string) (string, Metadata) {
	var meta Metadata
	m := metaBlock.FindStringSubmatchIndex(body)
	if m == nil {
		return body, meta
	}
	version := body[m[2]:m[3]]
	payload := body[m[4]:m[5]]
	description := body[:m[0]]
	if m[1] < len(body) {
		rest := body[m[1]:]
		if description != "" {
			description += "\n\n"
		}
		description += rest
	}
	if version == fmt.Sprint(metaVersion) {
		if err := json.Unmarshal([]byte(payload), &meta); err != nil {
			meta = Metadata{}
		}
	}
	return strings.TrimRight(description, "\r\n "), meta
}

// IssueFields is the provider-neutral view of an issue built from a task.
type IssueFields struct {
	Title  string
	Body   string
	State  string
	Labels []string
}

func IssueFromTask(task *models.Task) (IssueFields, error) {
	body, err := EncodeBody(task.Description, MetadataFor(task))
	if err != nil {
		return IssueFields{}, err
	}
	return IssueFields{
		Title:  task.Title,
		Body:   body,
		State:  StateForStatus(task.Status),
		Labels: Labels(task),
	}, nil
}

// TaskFromIssue rebuilds a task from issue fields.
func TaskFromIssue(externalID, title, body, state string, labels []string) *models.Task {
	description, meta := DecodeBody(body)
	task := &models.Task{
		Title:          title,
		Description:    description,
		Status:         StatusForState(state, meta),
		EstimatedHours: meta.EstimatedHours,
		ActualHours:    meta.ActualHours,
		Notes:          meta.Notes,
		ExternalID:     externalID,
	}
	applyLabels(task, labels)
	task.Normalize()
	return task
}
