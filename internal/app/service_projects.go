package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"hubo/api/internal/events"
	"hubo/api/internal/export"
	"hubo/api/internal/progression"
	"hubo/api/internal/search"
	"hubo/api/internal/store"
	"hubo/api/internal/util"
)

type ProjectInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type TaskInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Backlog         string   `json:"backlog"`
	Status          string   `json:"status"`
	AccountableRole string   `json:"accountableRole"`
	ResponsibleRole string   `json:"responsibleRole"`
	Activities      []string `json:"activities"`
	AssigneeID      *string  `json:"assigneeId"`
}

// TaskChange is returned by every task mutation: the task (zero when it was
// deleted), the recomputed eligibility of its project and, when auto-advance
// fired, the transition.
type TaskChange struct {
	Task        store.Task
	Eligibility progression.Eligibility
	Advance     *progression.AdvanceResult
}

type ProjectDetail struct {
	Project     store.Project
	Eligibility progression.Eligibility
}

// editableStatuses are the statuses a user may set. completed is reached
// through progression only.
var editableStatuses = map[string]struct{}{
	store.ProjectStatusDraft:    {},
	store.ProjectStatusRecent:   {},
	store.ProjectStatusLive:     {},
	store.ProjectStatusArchived: {},
}

var taskStatuses = map[string]struct{}{
	store.TaskStatusTodo:       {},
	store.TaskStatusUnassigned: {},
	store.TaskStatusInProgress: {},
	store.TaskStatusDone:       {},
}

func (s *Service) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	return s.store.ListProjects(ctx, filter)
}

func (s *Service) GetProject(ctx context.Context, projectID string) (ProjectDetail, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	eligibility, err := s.engine.Evaluate(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	return ProjectDetail{Project: project, Eligibility: eligibility}, nil
}

func (s *Service) CreateProject(ctx context.Context, input ProjectInput, ownerID string) (store.Project, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Project{}, validationError("title is required")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = store.ProjectStatusDraft
	}
	if _, ok := editableStatuses[status]; !ok {
		return store.Project{}, validationError("invalid status")
	}

	project := store.Project{
		ID:          util.NewID(""),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Backlog:     string(progression.StageBusinessInnovation),
		Status:      status,
		OwnerID:     ownerID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	s.indexProject(project)
	return project, nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID string, input ProjectInput) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		project.Title = title
	}
	project.Description = strings.TrimSpace(input.Description)
	if status := strings.TrimSpace(input.Status); status != "" && status != project.Status {
		if project.Status == store.ProjectStatusCompleted {
			return store.Project{}, domainError(http.StatusConflict, "PROJECT_COMPLETED", "Completed projects keep their status", nil)
		}
		if _, ok := editableStatuses[status]; !ok {
			return store.Project{}, validationError("invalid status")
		}
		project.Status = status
	}
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	s.indexProject(project)
	s.publish(events.ProjectChanged, project.ID, project)
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	tasks, err := s.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
		for _, task := range tasks {
			s.search.DeleteTask(task.ID)
		}
	}
	s.publish(events.ProjectChanged, projectID, map[string]any{"deleted": true})
	return nil
}

func (s *Service) ListTasks(ctx context.Context, projectID string, filter store.TaskFilter) ([]store.Task, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID, filter)
}

// CreateTask adds a task to a stage of the project, by default its current
// stage.
func (s *Service) CreateTask(ctx context.Context, projectID string, input TaskInput, actor string) (TaskChange, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return TaskChange{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return TaskChange{}, validationError("title is required")
	}
	backlog := strings.TrimSpace(input.Backlog)
	if backlog == "" {
		backlog = project.Backlog
	}
	if !progression.Stage(backlog).Valid() {
		return TaskChange{}, validationError("invalid backlog")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = store.TaskStatusTodo
	}
	if _, ok := taskStatuses[status]; !ok {
		return TaskChange{}, validationError("invalid status")
	}

	task := store.Task{
		ID:              util.NewID(""),
		ProjectID:       project.ID,
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		Backlog:         backlog,
		Status:          status,
		AccountableRole: strings.TrimSpace(input.AccountableRole),
		ResponsibleRole: strings.TrimSpace(input.ResponsibleRole),
		Activities:      cleanActivities(input.Activities),
		AssigneeID:      input.AssigneeID,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return TaskChange{}, err
	}
	return s.taskChanged(ctx, task, actor)
}

func (s *Service) UpdateTask(ctx context.Context, projectID, taskID string, input TaskInput, actor string) (TaskChange, error) {
	task, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return TaskChange{}, err
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		task.Title = title
	}
	if input.Backlog != "" && input.Backlog != task.Backlog {
		return TaskChange{}, validationError("a task's backlog cannot change")
	}
	if status := strings.TrimSpace(input.Status); status != "" {
		if _, ok := taskStatuses[status]; !ok {
			return TaskChange{}, validationError("invalid status")
		}
		task.Status = status
	}
	task.Description = strings.TrimSpace(input.Description)
	task.AccountableRole = strings.TrimSpace(input.AccountableRole)
	task.ResponsibleRole = strings.TrimSpace(input.ResponsibleRole)
	task.Activities = cleanActivities(input.Activities)
	task.AssigneeID = input.AssigneeID
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return TaskChange{}, err
	}
	return s.taskChanged(ctx, task, actor)
}

func (s *Service) SetTaskStatus(ctx context.Context, projectID, taskID, status, actor string) (TaskChange, error) {
	status = strings.TrimSpace(status)
	if _, ok := taskStatuses[status]; !ok {
		return TaskChange{}, validationError("invalid status")
	}
	task, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return TaskChange{}, err
	}
	if err := s.store.UpdateTaskStatus(ctx, projectID, taskID, status); err != nil {
		return TaskChange{}, err
	}
	task.Status = status
	return s.taskChanged(ctx, task, actor)
}

func (s *Service) DeleteTask(ctx context.Context, projectID, taskID, actor string) (TaskChange, error) {
	if err := s.store.DeleteTask(ctx, projectID, taskID); err != nil {
		return TaskChange{}, err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	change, err := s.taskChanged(ctx, store.Task{ID: taskID, ProjectID: projectID}, actor)
	change.Task = store.Task{}
	return change, err
}

// taskChanged recomputes eligibility after any change to a project's task
// set and, with auto-advance on, advances an eligible project. The task
// change itself is already committed, so progression errors are logged
// and only the eligibility is reported back.
func (s *Service) taskChanged(ctx context.Context, task store.Task, actor string) (TaskChange, error) {
	change := TaskChange{Task: task}
	if task.Title != "" {
		s.indexTasks([]store.Task{task})
	}

	eligibility, err := s.engine.Evaluate(ctx, task.ProjectID)
	if err != nil {
		log.Printf("app: evaluate project %s after task change failed: %v", task.ProjectID, err)
		s.publish(events.TaskChanged, task.ProjectID, map[string]any{"taskId": task.ID})
		return change, nil
	}
	change.Eligibility = eligibility
	s.publish(events.TaskChanged, task.ProjectID, map[string]any{
		"taskId":      task.ID,
		"status":      task.Status,
		"eligibility": eligibility,
	})

	if !eligibility.Eligible || !s.cfg.AutoAdvance {
		return change, nil
	}
	result, err := s.engine.Advance(ctx, task.ProjectID, actor)
	if err != nil {
		log.Printf("app: auto-advance of project %s failed: %v", task.ProjectID, err)
	}
	if result.Advanced {
		change.Advance = &result
		if next, err := s.engine.Evaluate(ctx, task.ProjectID); err == nil {
			change.Eligibility = next
		}
	}
	return change, nil
}

func (s *Service) EvaluateProgression(ctx context.Context, projectID string) (progression.Eligibility, error) {
	return s.engine.Evaluate(ctx, projectID)
}

func (s *Service) AdvanceProject(ctx context.Context, projectID, actor string) (progression.AdvanceResult, error) {
	return s.engine.Advance(ctx, projectID, actor)
}

func (s *Service) RegenerateTasks(ctx context.Context, projectID, additionalContext string) (progression.GenerationResult, error) {
	return s.engine.RegenerateTasks(ctx, projectID, strings.TrimSpace(additionalContext))
}

func (s *Service) ProgressionHistory(ctx context.Context, projectID string) ([]store.ProgressionEvent, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListProgressionEvents(ctx, projectID)
}

func (s *Service) ExportProject(ctx context.Context, projectID string, format export.Format, includeHistory bool) (*export.Result, error) {
	return s.exporter.Export(ctx, export.Request{
		ProjectID:      projectID,
		Format:         format,
		IncludeHistory: includeHistory,
	})
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	switch q.FilterType {
	case "", search.ResultProject, search.ResultTask, search.ResultIdea:
	default:
		return search.Response{}, validationError("type must be project, task or idea")
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// Dashboard gathers the summary counts concurrently.
func (s *Service) Dashboard(ctx context.Context) (store.DashboardCounts, error) {
	var counts store.DashboardCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		byStatus, byBacklog, err := s.store.ProjectCounts(gctx)
		if err != nil {
			return err
		}
		counts.ByStatus, counts.ByBacklog = byStatus, byBacklog
		return nil
	})
	g.Go(func() error {
		open, done, err := s.store.TaskCounts(gctx)
		if err != nil {
			return err
		}
		counts.OpenTasks, counts.DoneTasks = open, done
		return nil
	})
	g.Go(func() error {
		n, err := s.store.CountNewIdeas(gctx)
		if err != nil {
			return err
		}
		counts.NewIdeas = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return store.DashboardCounts{}, fmt.Errorf("dashboard: %w", err)
	}
	if counts.ByStatus == nil {
		counts.ByStatus = map[string]int{}
	}
	if counts.ByBacklog == nil {
		counts.ByBacklog = map[string]int{}
	}
	for _, stage := range progression.Stages {
		if _, ok := counts.ByBacklog[string(stage)]; !ok {
			counts.ByBacklog[string(stage)] = 0
		}
	}
	return counts, nil
}

func (s *Service) publish(eventType events.Type, projectID string, data any) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.Event{Type: eventType, ProjectID: projectID, Data: data})
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		Backlog:     project.Backlog,
		Status:      project.Status,
	})
}

func (s *Service) indexTasks(tasks []store.Task) {
	if s.search == nil || len(tasks) == 0 {
		return
	}
	records := make([]search.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, search.TaskRecord{
			ID:          task.ID,
			ProjectID:   task.ProjectID,
			Title:       task.Title,
			Description: task.Description,
			Backlog:     task.Backlog,
			Status:      task.Status,
		})
	}
	s.search.IndexTasks(records)
}

func cleanActivities(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
