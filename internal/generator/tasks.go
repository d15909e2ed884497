package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxTasks caps how many generated tasks a single response may contribute.
const MaxTasks = 50

type ProjectContext struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type PreviousTask struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	AccountableRole string   `json:"accountable_role,omitempty"`
	ResponsibleRole string   `json:"responsible_role,omitempty"`
	Activities      []string `json:"activities,omitempty"`
}

type TaskRequest struct {
	ProjectID         string         `json:"projectId"`
	PreviousStage     string         `json:"previousStage"`
	NextStage         string         `json:"nextStage"`
	AdditionalContext string         `json:"additionalContext,omitempty"`
	Project           ProjectContext `json:"project"`
	PreviousTasks     []PreviousTask `json:"previousTasks,omitempty"`
}

type ProposedTask struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	AccountableRole string   `json:"accountable_role"`
	ResponsibleRole string   `json:"responsible_role"`
	Activities      []string `json:"activities"`
}

// GenerateTasks asks the task endpoint for a batch of tasks for req.NextStage.
func (c *Client) GenerateTasks(ctx context.Context, req TaskRequest) ([]ProposedTask, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	body, err := c.postJSON(ctx, "/tasks", req)
	if err != nil {
		return nil, err
	}
	return ParseTasks(body)
}

// ParseTasks extracts and validates tasks from a generator response. The
// list may sit under "tasks", "data.tasks" or be the top-level array, and
// role keys may be snake_case or camelCase. Entries without a title are
// dropped; a response with no usable entries is invalid.
func ParseTasks(body []byte) ([]ProposedTask, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: not JSON", ErrInvalidResponse)
	}
	root := gjson.ParseBytes(body)

	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.Get("tasks").IsArray():
		list = root.Get("tasks")
	case root.Get("data.tasks").IsArray():
		list = root.Get("data.tasks")
	default:
		return nil, fmt.Errorf("%w: no tasks array", ErrInvalidResponse)
	}

	tasks := make([]ProposedTask, 0)
	for _, item := range list.Array() {
		if !item.IsObject() {
			continue
		}
		task := ProposedTask{
			Title:           strings.TrimSpace(item.Get("title").String()),
			Description:     strings.TrimSpace(item.Get("description").String()),
			AccountableRole: firstString(item, "accountable_role", "accountableRole"),
			ResponsibleRole: firstString(item, "responsible_role", "responsibleRole"),
			Activities:      stringList(item.Get("activities")),
		}
		if task.Title == "" {
			continue
		}
		tasks = append(tasks, task)
		if len(tasks) == MaxTasks {
			break
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no valid tasks", ErrInvalidResponse)
	}
	return tasks, nil
}

func firstString(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(item.Get(key).String()); value != "" {
			return value
		}
	}
	return ""
}

func stringList(value gjson.Result) []string {
	out := make([]string, 0)
	if !value.IsArray() {
		return out
	}
	for _, entry := range value.Array() {
		if entry.Type != gjson.String {
			continue
		}
		if text := strings.TrimSpace(entry.String()); text != "" {
			out = append(out, text)
		}
	}
	return out
}
