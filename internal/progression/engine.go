// Package progression moves a project through its backlog stages
// (business_innovation, engineering, outcomes_adoption, then completed) once
// every task of the current stage is done, and seeds the next stage with
// generated tasks on a best-effort basis.
package progression

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"hubo/api/internal/generator"
	"hubo/api/internal/metrics"
	"hubo/api/internal/store"
	"hubo/api/internal/util"
)

const DefaultGenerationTimeout = 30 * time.Second

var (
	// ErrUnrecognizedStage means the project's backlog holds a value outside
	// the stage sequence. Nothing is written when it is returned.
	ErrUnrecognizedStage = errors.New("unrecognized backlog stage")
	ErrProjectNotFound   = errors.New("project not found")
	// ErrStageHasTasks is returned by RegenerateTasks when the current stage
	// already has tasks.
	ErrStageHasTasks = errors.New("current stage already has tasks")
	ErrProjectClosed = errors.New("project is completed or archived")
)

// Reasons reported in Eligibility and AdvanceResult.
const (
	ReasonEligible          = "eligible"
	ReasonTerminal          = "terminal"
	ReasonNoStage           = "no_stage"
	ReasonEmptyStage        = "empty_stage"
	ReasonIncompleteTasks   = "incomplete_tasks"
	ReasonUnrecognizedStage = "unrecognized_stage"
	ReasonConcurrentUpdate  = "concurrent_update"
	ReasonAdvanced          = "advanced"
)

type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	// AdvanceProjectBacklog sets backlog to `to` only while it still equals
	// `from` and the project is not completed. It reports whether a row changed.
	AdvanceProjectBacklog(ctx context.Context, projectID, from, to string) (bool, error)
	// CompleteProject sets status to completed only while backlog equals
	// `backlog` and the project is not already completed.
	CompleteProject(ctx context.Context, projectID, backlog string) (bool, error)
}

type TaskStore interface {
	ListTasksByStage(ctx context.Context, projectID, backlog string) ([]store.Task, error)
	InsertTasks(ctx context.Context, tasks []store.Task) error
}

type TaskGenerator interface {
	GenerateTasks(ctx context.Context, req generator.TaskRequest) ([]generator.ProposedTask, error)
}

// Observer is told about every committed transition and every generated
// batch. Implementations must not block for long.
type Observer interface {
	ProjectAdvanced(ctx context.Context, result AdvanceResult, actor string)
	TasksGenerated(ctx context.Context, projectID string, stage Stage, tasks []store.Task)
}

type Eligibility struct {
	ProjectID  string `json:"projectId"`
	Stage      Stage  `json:"stage"`
	Eligible   bool   `json:"eligible"`
	Reason     string `json:"reason"`
	TotalTasks int    `json:"totalTasks"`
	DoneTasks  int    `json:"doneTasks"`
}

type AdvanceResult struct {
	ProjectID   string `json:"projectId"`
	Advanced    bool   `json:"advanced"`
	Reason      string `json:"reason"`
	FromStage   Stage  `json:"fromStage"`
	ResultStage Stage  `json:"resultStage,omitempty"`
	// TasksGenerated is false when the generator failed or was not called.
	// The stage transition stands either way.
	TasksGenerated  bool   `json:"tasksGenerated"`
	GeneratedCount  int    `json:"generatedCount"`
	GenerationError string `json:"generationError,omitempty"`
}

type GenerationResult struct {
	ProjectID string       `json:"projectId"`
	Stage     Stage        `json:"stage"`
	Tasks     []store.Task `json:"-"`
	Count     int          `json:"count"`
}

type Options struct {
	GenerationTimeout time.Duration
	Observer          Observer
}

type Engine struct {
	projects          ProjectStore
	tasks             TaskStore
	generator         TaskGenerator
	observer          Observer
	generationTimeout time.Duration
}

// NewEngine wires an engine. gen may be nil, in which case transitions still
// happen and every generation attempt is reported as failed.
func NewEngine(projects ProjectStore, tasks TaskStore, gen TaskGenerator, opts Options) *Engine {
	timeout := opts.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Engine{
		projects:          projects,
		tasks:             tasks,
		generator:         gen,
		observer:          opts.Observer,
		generationTimeout: timeout,
	}
}

// Evaluate reports whether the project may leave its current stage. It only
// reads: one project lookup and one query over the current-stage tasks.
func (e *Engine) Evaluate(ctx context.Context, projectID string) (Eligibility, error) {
	_, _, result, err := e.evaluate(ctx, projectID)
	if err != nil {
		return Eligibility{}, err
	}
	metrics.ObserveEvaluation(result.Reason)
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, projectID string) (store.Project, []store.Task, Eligibility, error) {
	project, err := e.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, nil, Eligibility{}, err
	}

	stage := Stage(project.Backlog)
	result := Eligibility{ProjectID: project.ID, Stage: stage}

	switch {
	case project.Status == store.ProjectStatusCompleted || project.Status == store.ProjectStatusArchived || stage.Terminal():
		result.Reason = ReasonTerminal
		return project, nil, result, nil
	case stage == "":
		result.Reason = ReasonNoStage
		return project, nil, result, nil
	case !stage.Valid():
		result.Reason = ReasonUnrecognizedStage
		return project, nil, result, nil
	}

	tasks, err := e.tasks.ListTasksByStage(ctx, project.ID, string(stage))
	if err != nil {
		return store.Project{}, nil, Eligibility{}, fmt.Errorf("list %s tasks: %w", stage, err)
	}

	result.TotalTasks = len(tasks)
	for _, task := range tasks {
		if task.Status == store.TaskStatusDone {
			result.DoneTasks++
		}
	}

	switch {
	case result.TotalTasks == 0:
		result.Reason = ReasonEmptyStage
	case result.DoneTasks < result.TotalTasks:
		result.Reason = ReasonIncompleteTasks
	default:
		result.Eligible = true
		result.Reason = ReasonEligible
	}
	return project, tasks, result, nil
}

// Advance moves the project to its next stage when Evaluate would say it is
// eligible. Not being eligible is a normal result with Advanced=false and no
// writes. Reaching completed only changes the status; backlog keeps its last
// stage. For the other transitions the backlog is updated first and tasks
// for the new stage are generated afterwards; a generation failure leaves
// the transition in place and is reported through TasksGenerated and
// GenerationError.
func (e *Engine) Advance(ctx context.Context, projectID, actor string) (AdvanceResult, error) {
	project, previousTasks, eligibility, err := e.evaluate(ctx, projectID)
	if err != nil {
		return AdvanceResult{}, err
	}
	metrics.ObserveEvaluation(eligibility.Reason)

	result := AdvanceResult{
		ProjectID: project.ID,
		FromStage: eligibility.Stage,
		Reason:    eligibility.Reason,
	}
	if eligibility.Reason == ReasonUnrecognizedStage {
		return result, fmt.Errorf("%w: %q", ErrUnrecognizedStage, project.Backlog)
	}
	if !eligibility.Eligible {
		return result, nil
	}

	next, ok := eligibility.Stage.Next()
	if !ok {
		return result, fmt.Errorf("%w: %q", ErrUnrecognizedStage, project.Backlog)
	}

	if next == StageCompleted {
		changed, err := e.projects.CompleteProject(ctx, project.ID, string(eligibility.Stage))
		if err != nil {
			return AdvanceResult{}, fmt.Errorf("complete project: %w", err)
		}
		if !changed {
			result.Reason = ReasonConcurrentUpdate
			return result, nil
		}
		result.Advanced = true
		result.Reason = ReasonAdvanced
		result.ResultStage = StageCompleted
		e.committed(ctx, result, actor)
		return result, nil
	}

	changed, err := e.projects.AdvanceProjectBacklog(ctx, project.ID, string(eligibility.Stage), string(next))
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("advance backlog: %w", err)
	}
	if !changed {
		result.Reason = ReasonConcurrentUpdate
		return result, nil
	}
	result.Advanced = true
	result.Reason = ReasonAdvanced
	result.ResultStage = next

	inserted, genErr := e.generate(ctx, project, eligibility.Stage, next, previousTasks, "")
	switch {
	case genErr == nil:
		result.TasksGenerated = true
		result.GeneratedCount = len(inserted)
	case errors.Is(genErr, errInsertTasks):
		// The transition is committed; the caller still has to hear about
		// the store failure.
		log.Printf("progression: storing generated tasks for project %s failed: %v", project.ID, genErr)
		result.GenerationError = genErr.Error()
		e.committed(ctx, result, actor)
		return result, genErr
	default:
		log.Printf("progression: task generation for project %s (%s -> %s) failed: %v", project.ID, eligibility.Stage, next, genErr)
		result.GenerationError = genErr.Error()
	}

	e.committed(ctx, result, actor)
	return result, nil
}

// RegenerateTasks requests a batch for the project's current stage. It is the
// manual retry after a failed generation and only runs while the stage has
// no tasks.
func (e *Engine) RegenerateTasks(ctx context.Context, projectID, additionalContext string) (GenerationResult, error) {
	project, err := e.loadProject(ctx, projectID)
	if err != nil {
		return GenerationResult{}, err
	}
	if project.Status == store.ProjectStatusCompleted || project.Status == store.ProjectStatusArchived {
		return GenerationResult{}, ErrProjectClosed
	}
	stage := Stage(project.Backlog)
	if !stage.Valid() {
		return GenerationResult{}, fmt.Errorf("%w: %q", ErrUnrecognizedStage, project.Backlog)
	}

	existing, err := e.tasks.ListTasksByStage(ctx, project.ID, string(stage))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("list %s tasks: %w", stage, err)
	}
	if len(existing) > 0 {
		return GenerationResult{}, ErrStageHasTasks
	}

	previous := stage.Previous()
	var previousTasks []store.Task
	if previous != "" {
		previousTasks, err = e.tasks.ListTasksByStage(ctx, project.ID, string(previous))
		if err != nil {
			return GenerationResult{}, fmt.Errorf("list %s tasks: %w", previous, err)
		}
	}

	inserted, err := e.generate(ctx, project, previous, stage, previousTasks, additionalContext)
	if err != nil {
		return GenerationResult{}, err
	}
	return GenerationResult{ProjectID: project.ID, Stage: stage, Tasks: inserted, Count: len(inserted)}, nil
}

var errInsertTasks = errors.New("insert generated tasks")

func (e *Engine) generate(ctx context.Context, project store.Project, previous, next Stage, previousTasks []store.Task, additionalContext string) ([]store.Task, error) {
	if e.generator == nil {
		metrics.ObserveGeneration(false, 0)
		return nil, generator.ErrNotConfigured
	}

	genCtx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	started := time.Now()
	proposed, err := e.generator.GenerateTasks(genCtx, generator.TaskRequest{
		ProjectID:         project.ID,
		PreviousStage:     string(previous),
		NextStage:         string(next),
		AdditionalContext: additionalContext,
		Project: generator.ProjectContext{
			Title:       project.Title,
			Description: project.Description,
		},
		PreviousTasks: toPreviousTasks(previousTasks),
	})
	metrics.ObserveGeneration(err == nil, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("generate %s tasks: %w", next, err)
	}

	tasks := make([]store.Task, 0, len(proposed))
	for _, item := range proposed {
		tasks = append(tasks, store.Task{
			ID:              util.NewID(""),
			ProjectID:       project.ID,
			Title:           item.Title,
			Description:     item.Description,
			Backlog:         string(next),
			Status:          store.TaskStatusInProgress,
			AccountableRole: item.AccountableRole,
			ResponsibleRole: item.ResponsibleRole,
			Activities:      item.Activities,
		})
	}
	if err := e.tasks.InsertTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("%w: %w", errInsertTasks, err)
	}
	if e.observer != nil {
		e.observer.TasksGenerated(ctx, project.ID, next, tasks)
	}
	return tasks, nil
}

func (e *Engine) committed(ctx context.Context, result AdvanceResult, actor string) {
	metrics.ObserveAdvance(string(result.FromStage), string(result.ResultStage))
	if e.observer != nil {
		e.observer.ProjectAdvanced(ctx, result, actor)
	}
}

func (e *Engine) loadProject(ctx context.Context, projectID string) (store.Project, error) {
	project, err := e.projects.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return store.Project{}, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

func toPreviousTasks(tasks []store.Task) []generator.PreviousTask {
	out := make([]generator.PreviousTask, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, generator.PreviousTask{
			Title:           task.Title,
			Description:     task.Description,
			AccountableRole: task.AccountableRole,
			ResponsibleRole: task.ResponsibleRole,
			Activities:      task.Activities,
		})
	}
	return out
}
