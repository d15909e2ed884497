package export

import (
	"context"
	"fmt"
	"time"

	"hubo/api/internal/progression"
	"hubo/api/internal/store"
)

type DataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListTasks(ctx context.Context, projectID string, filter store.TaskFilter) ([]store.Task, error)
	ListProgressionEvents(ctx context.Context, projectID string) ([]store.ProgressionEvent, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	store      DataStore
	converters map[Format]converter
	now        func() time.Time
}

func NewService(store DataStore) *Service {
	return &Service{
		store: store,
		converters: map[Format]converter{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
		now: time.Now,
	}
}

// Export renders the project report and converts it to the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	convert, ok := s.converters[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	data, err := s.BuildReport(ctx, req.ProjectID, req.IncludeHistory)
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return convert(ctx, html, data.Title)
}

// BuildReport groups the project's tasks by the stage they were created for.
func (s *Service) BuildReport(ctx context.Context, projectID string, includeHistory bool) (ReportData, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ReportData{}, fmt.Errorf("get project: %w", err)
	}
	tasks, err := s.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return ReportData{}, fmt.Errorf("list tasks: %w", err)
	}

	current := progression.Stage(project.Backlog)
	data := ReportData{
		Title:        project.Title,
		Description:  project.Description,
		Status:       project.Status,
		CurrentStage: current.Label(),
		GeneratedAt:  s.now(),
	}

	byStage := map[string][]store.Task{}
	for _, task := range tasks {
		byStage[task.Backlog] = append(byStage[task.Backlog], task)
	}
	for _, stage := range progression.Stages {
		section := ReportStage{
			Label:   stage.Label(),
			Current: stage == current && project.Status != store.ProjectStatusCompleted,
			Tasks:   []ReportTask{},
		}
		for _, task := range byStage[string(stage)] {
			section.Total++
			if task.Status == store.TaskStatusDone {
				section.Done++
			}
			section.Tasks = append(section.Tasks, ReportTask{
				Title:           task.Title,
				Description:     task.Description,
				Status:          task.Status,
				AccountableRole: task.AccountableRole,
				ResponsibleRole: task.ResponsibleRole,
				Activities:      task.Activities,
			})
		}
		data.Stages = append(data.Stages, section)
	}

	if includeHistory {
		events, err := s.store.ListProgressionEvents(ctx, projectID)
		if err != nil {
			return ReportData{}, fmt.Errorf("list progression events: %w", err)
		}
		for _, event := range events {
			entry := ReportEvent{
				At:        event.CreatedAt,
				FromStage: progression.Stage(event.FromStage).Label(),
				ToStage:   progression.Stage(event.ToStage).Label(),
				Actor:     event.Actor,
			}
			switch {
			case event.GenerationError != "":
				entry.Note = "task generation failed"
			case event.TasksGenerated:
				entry.Note = fmt.Sprintf("%d tasks generated", event.GeneratedCount)
			}
			data.History = append(data.History, entry)
		}
	}
	return data, nil
}
