package progression

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubo/api/internal/generator"
	"hubo/api/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	projects map[string]store.Project
	tasks    []store.Task
	writes   int
	listErr  error
	insertFn func([]store.Task) error
	// beforeCAS runs inside the conditional updates, to simulate a concurrent writer.
	beforeCAS func(*store.Project)
}

func newMemStore(project store.Project, statuses ...string) *memStore {
	s := &memStore{projects: map[string]store.Project{project.ID: project}}
	for i, status := range statuses {
		s.tasks = append(s.tasks, store.Task{
			ID:        project.ID + "-t" + string(rune('a'+i)),
			ProjectID: project.ID,
			Title:     "task",
			Backlog:   project.Backlog,
			Status:    status,
		})
	}
	return s
}

func (s *memStore) GetProject(_ context.Context, id string) (store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (s *memStore) AdvanceProjectBacklog(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project := s.projects[id]
	if s.beforeCAS != nil {
		s.beforeCAS(&project)
	}
	if project.Backlog != from || project.Status == store.ProjectStatusCompleted {
		s.projects[id] = project
		return false, nil
	}
	project.Backlog = to
	s.projects[id] = project
	s.writes++
	return true, nil
}

func (s *memStore) CompleteProject(_ context.Context, id, backlog string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project := s.projects[id]
	if s.beforeCAS != nil {
		s.beforeCAS(&project)
	}
	if project.Backlog != backlog || project.Status == store.ProjectStatusCompleted {
		s.projects[id] = project
		return false, nil
	}
	project.Status = store.ProjectStatusCompleted
	s.projects[id] = project
	s.writes++
	return true, nil
}

func (s *memStore) ListTasksByStage(_ context.Context, projectID, backlog string) ([]store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]store.Task, 0)
	for _, task := range s.tasks {
		if task.ProjectID == projectID && task.Backlog == backlog {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *memStore) InsertTasks(_ context.Context, tasks []store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertFn != nil {
		if err := s.insertFn(tasks); err != nil {
			return err
		}
	}
	s.tasks = append(s.tasks, tasks...)
	s.writes++
	return nil
}

type fakeGenerator struct {
	calls    int
	requests []generator.TaskRequest
	tasks    []generator.ProposedTask
	err      error
	wait     bool
}

func (g *fakeGenerator) GenerateTasks(ctx context.Context, req generator.TaskRequest) ([]generator.ProposedTask, error) {
	g.calls++
	g.requests = append(g.requests, req)
	if g.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.tasks, g.err
}

type recordingObserver struct {
	advanced  []AdvanceResult
	generated int
}

func (o *recordingObserver) ProjectAdvanced(_ context.Context, result AdvanceResult, _ string) {
	o.advanced = append(o.advanced, result)
}

func (o *recordingObserver) TasksGenerated(_ context.Context, _ string, _ Stage, tasks []store.Task) {
	o.generated += len(tasks)
}

func project(backlog, status string) store.Project {
	return store.Project{ID: "p1", Title: "Hubo", Backlog: backlog, Status: status}
}

func proposed(titles ...string) []generator.ProposedTask {
	out := make([]generator.ProposedTask, 0, len(titles))
	for _, title := range titles {
		out = append(out, generator.ProposedTask{
			Title:           title,
			AccountableRole: "Product Owner",
			ResponsibleRole: "Engineer",
			Activities:      []string{"plan"},
		})
	}
	return out
}

func TestStageSequence(t *testing.T) {
	next, ok := StageBusinessInnovation.Next()
	assert.True(t, ok)
	assert.Equal(t, StageEngineering, next)

	next, ok = StageEngineering.Next()
	assert.True(t, ok)
	assert.Equal(t, StageOutcomesAdoption, next)

	next, ok = StageOutcomesAdoption.Next()
	assert.True(t, ok)
	assert.Equal(t, StageCompleted, next)

	_, ok = StageCompleted.Next()
	assert.False(t, ok)
	_, ok = Stage("unknown_stage").Next()
	assert.False(t, ok)

	assert.Equal(t, Stage(""), StageBusinessInnovation.Previous())
	assert.Equal(t, StageEngineering, StageOutcomesAdoption.Previous())
	assert.False(t, StageCompleted.Valid())
}

func TestEvaluateEligibility(t *testing.T) {
	tests := []struct {
		name     string
		project  store.Project
		statuses []string
		eligible bool
		reason   string
	}{
		{name: "all done", project: project("business_innovation", "live"), statuses: []string{"done", "done"}, eligible: true, reason: ReasonEligible},
		{name: "one in progress", project: project("engineering", "live"), statuses: []string{"done", "in_progress"}, reason: ReasonIncompleteTasks},
		{name: "empty stage is not vacuously eligible", project: project("engineering", "live"), reason: ReasonEmptyStage},
		{name: "completed project", project: project("outcomes_adoption", "completed"), statuses: []string{"done"}, reason: ReasonTerminal},
		{name: "archived project", project: project("engineering", "archived"), statuses: []string{"done"}, reason: ReasonTerminal},
		{name: "completed backlog value", project: project("completed", "live"), reason: ReasonTerminal},
		{name: "missing backlog", project: project("", "draft"), reason: ReasonNoStage},
		{name: "corrupt backlog", project: project("unknown_stage", "live"), statuses: []string{"done"}, reason: ReasonUnrecognizedStage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore(tt.project, tt.statuses...)
			engine := NewEngine(s, s, &fakeGenerator{}, Options{})

			got, err := engine.Evaluate(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.eligible, got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Zero(t, s.writes)
		})
	}
}

func TestEvaluateOnlyCountsCurrentStageTasks(t *testing.T) {
	s := newMemStore(project("engineering", "live"), "done")
	s.tasks = append(s.tasks, store.Task{ID: "old", ProjectID: "p1", Backlog: "business_innovation", Status: "in_progress"})
	engine := NewEngine(s, s, nil, Options{})

	got, err := engine.Evaluate(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, got.Eligible)
	assert.Equal(t, 1, got.TotalTasks)
	assert.Equal(t, 1, got.DoneTasks)
}

func TestEvaluateFlipsWhenAnyTaskReopens(t *testing.T) {
	statuses := []string{"done", "done", "done"}
	for i := range statuses {
		s := newMemStore(project("business_innovation", "live"), statuses...)
		s.tasks[i].Status = store.TaskStatusTodo
		engine := NewEngine(s, s, nil, Options{})

		got, err := engine.Evaluate(context.Background(), "p1")
		require.NoError(t, err)
		assert.False(t, got.Eligible, "task %d reopened", i)
	}
}

func TestEvaluateProjectNotFound(t *testing.T) {
	s := newMemStore(project("engineering", "live"))
	engine := NewEngine(s, s, nil, Options{})

	_, err := engine.Evaluate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestEvaluatePropagatesStoreErrors(t *testing.T) {
	s := newMemStore(project("engineering", "live"), "done")
	s.listErr = errors.New("connection reset")
	engine := NewEngine(s, s, nil, Options{})

	_, err := engine.Evaluate(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestAdvanceFromBusinessInnovationGeneratesEngineeringTasks(t *testing.T) {
	s := newMemStore(project("business_innovation", "live"), "done", "done")
	gen := &fakeGenerator{tasks: proposed("Build MVP", "Set up CI")}
	observer := &recordingObserver{}
	engine := NewEngine(s, s, gen, Options{Observer: observer})

	eligibility, err := engine.Evaluate(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, eligibility.Eligible)

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, StageBusinessInnovation, result.FromStage)
	assert.Equal(t, StageEngineering, result.ResultStage)
	assert.True(t, result.TasksGenerated)
	assert.Equal(t, 2, result.GeneratedCount)

	assert.Equal(t, "engineering", s.projects["p1"].Backlog)
	assert.Equal(t, "live", s.projects["p1"].Status)

	require.Equal(t, 1, gen.calls)
	req := gen.requests[0]
	assert.Equal(t, "p1", req.ProjectID)
	assert.Equal(t, "business_innovation", req.PreviousStage)
	assert.Equal(t, "engineering", req.NextStage)
	assert.Len(t, req.PreviousTasks, 2)

	generated, _ := s.ListTasksByStage(context.Background(), "p1", "engineering")
	require.Len(t, generated, 2)
	for _, task := range generated {
		assert.Equal(t, store.TaskStatusInProgress, task.Status)
		assert.Equal(t, "engineering", task.Backlog)
		assert.NotEmpty(t, task.ID)
	}
	assert.Len(t, observer.advanced, 1)
	assert.Equal(t, 2, observer.generated)
}

func TestAdvanceNotEligibleWritesNothing(t *testing.T) {
	s := newMemStore(project("engineering", "live"), "done", "in_progress")
	gen := &fakeGenerator{tasks: proposed("x")}
	engine := NewEngine(s, s, gen, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, ReasonIncompleteTasks, result.Reason)
	assert.Zero(t, s.writes)
	assert.Zero(t, gen.calls)
	assert.Equal(t, "engineering", s.projects["p1"].Backlog)
}

func TestAdvanceEmptyStageWritesNothing(t *testing.T) {
	s := newMemStore(project("business_innovation", "draft"))
	engine := NewEngine(s, s, &fakeGenerator{}, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, ReasonEmptyStage, result.Reason)
	assert.Zero(t, s.writes)
}

func TestAdvanceFromOutcomesCompletesWithoutGenerator(t *testing.T) {
	s := newMemStore(project("outcomes_adoption", "live"), "done", "done")
	gen := &fakeGenerator{err: errors.New("dial tcp: connection refused")}
	engine := NewEngine(s, s, gen, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, StageCompleted, result.ResultStage)
	assert.Zero(t, gen.calls)

	assert.Equal(t, store.ProjectStatusCompleted, s.projects["p1"].Status)
	assert.Equal(t, "outcomes_adoption", s.projects["p1"].Backlog)

	again, err := engine.Evaluate(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, again.Eligible)
	assert.Equal(t, ReasonTerminal, again.Reason)
}

func TestAdvanceKeepsTransitionWhenGeneratorFails(t *testing.T) {
	for _, from := range []Stage{StageBusinessInnovation, StageEngineering} {
		t.Run(string(from), func(t *testing.T) {
			s := newMemStore(project(string(from), "live"), "done")
			gen := &fakeGenerator{err: errors.New("503 from model")}
			engine := NewEngine(s, s, gen, Options{})

			result, err := engine.Advance(context.Background(), "p1", "avery")
			require.NoError(t, err)
			next, _ := from.Next()
			assert.True(t, result.Advanced)
			assert.Equal(t, next, result.ResultStage)
			assert.False(t, result.TasksGenerated)
			assert.Contains(t, result.GenerationError, "503 from model")
			assert.Equal(t, string(next), s.projects["p1"].Backlog)

			generated, _ := s.ListTasksByStage(context.Background(), "p1", string(next))
			assert.Empty(t, generated)
		})
	}
}

func TestAdvanceWithoutGeneratorStillTransitions(t *testing.T) {
	s := newMemStore(project("business_innovation", "live"), "done")
	engine := NewEngine(s, s, nil, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.False(t, result.TasksGenerated)
	assert.Contains(t, result.GenerationError, generator.ErrNotConfigured.Error())
}

func TestAdvanceBoundsGenerationTime(t *testing.T) {
	s := newMemStore(project("engineering", "live"), "done")
	gen := &fakeGenerator{wait: true}
	engine := NewEngine(s, s, gen, Options{GenerationTimeout: 20 * time.Millisecond})

	started := time.Now()
	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.True(t, result.Advanced)
	assert.False(t, result.TasksGenerated)
	assert.Equal(t, "outcomes_adoption", s.projects["p1"].Backlog)
}

func TestAdvanceUnrecognizedStageAborts(t *testing.T) {
	s := newMemStore(project("unknown_stage", "live"), "done")
	gen := &fakeGenerator{tasks: proposed("x")}
	engine := NewEngine(s, s, gen, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	assert.ErrorIs(t, err, ErrUnrecognizedStage)
	assert.False(t, result.Advanced)
	assert.Zero(t, s.writes)
	assert.Zero(t, gen.calls)
	assert.Equal(t, "unknown_stage", s.projects["p1"].Backlog)
}

func TestPaddedStageIsUnrecognized(t *testing.T) {
	s := newMemStore(project("engineering ", "live"), "done")
	s.tasks[0].Backlog = "engineering"
	gen := &fakeGenerator{tasks: proposed("x")}
	engine := NewEngine(s, s, gen, Options{})

	eligibility, err := engine.Evaluate(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, eligibility.Eligible)
	assert.Equal(t, ReasonUnrecognizedStage, eligibility.Reason)

	result, err := engine.Advance(context.Background(), "p1", "avery")
	assert.ErrorIs(t, err, ErrUnrecognizedStage)
	assert.False(t, result.Advanced)
	assert.NotEqual(t, ReasonConcurrentUpdate, result.Reason)
	assert.Zero(t, s.writes)
	assert.Zero(t, gen.calls)

	_, err = engine.RegenerateTasks(context.Background(), "p1", "")
	assert.ErrorIs(t, err, ErrUnrecognizedStage)
}

func TestAdvanceLosesRaceWithoutGenerating(t *testing.T) {
	s := newMemStore(project("business_innovation", "live"), "done")
	s.beforeCAS = func(p *store.Project) { p.Backlog = "engineering" }
	gen := &fakeGenerator{tasks: proposed("x")}
	engine := NewEngine(s, s, gen, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, ReasonConcurrentUpdate, result.Reason)
	assert.Zero(t, gen.calls)
	assert.Zero(t, s.writes)
}

func TestAdvanceCompletionLosesRace(t *testing.T) {
	s := newMemStore(project("outcomes_adoption", "live"), "done")
	s.beforeCAS = func(p *store.Project) { p.Status = store.ProjectStatusCompleted }
	engine := NewEngine(s, s, nil, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, ReasonConcurrentUpdate, result.Reason)
}

func TestAdvanceConcurrentCallersOnlyOneWins(t *testing.T) {
	s := newMemStore(project("business_innovation", "live"), "done", "done")
	engine := NewEngine(s, s, nil, Options{})

	var wg sync.WaitGroup
	results := make([]AdvanceResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = engine.Advance(context.Background(), "p1", "tab")
		}(i)
	}
	wg.Wait()

	advanced := 0
	for _, result := range results {
		if result.Advanced {
			advanced++
		}
	}
	assert.Equal(t, 1, advanced)
	assert.Equal(t, "engineering", s.projects["p1"].Backlog)
}

func TestAdvanceReportsInsertFailureAfterTransition(t *testing.T) {
	s := newMemStore(project("business_innovation", "live"), "done")
	s.insertFn = func([]store.Task) error { return errors.New("disk full") }
	engine := NewEngine(s, s, &fakeGenerator{tasks: proposed("x")}, Options{})

	result, err := engine.Advance(context.Background(), "p1", "avery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, result.Advanced)
	assert.False(t, result.TasksGenerated)
	assert.Equal(t, "engineering", s.projects["p1"].Backlog)
}

func TestRegenerateTasksForEmptyStage(t *testing.T) {
	s := newMemStore(project("engineering", "live"))
	s.tasks = append(s.tasks, store.Task{ID: "bi", ProjectID: "p1", Title: "Market study", Backlog: "business_innovation", Status: "done"})
	gen := &fakeGenerator{tasks: proposed("Prototype")}
	engine := NewEngine(s, s, gen, Options{})

	result, err := engine.RegenerateTasks(context.Background(), "p1", "focus on mobile")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, StageEngineering, result.Stage)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, "business_innovation", gen.requests[0].PreviousStage)
	assert.Equal(t, "engineering", gen.requests[0].NextStage)
	assert.Equal(t, "focus on mobile", gen.requests[0].AdditionalContext)
	assert.Len(t, gen.requests[0].PreviousTasks, 1)
}

func TestRegenerateTasksRefusesPopulatedStage(t *testing.T) {
	s := newMemStore(project("engineering", "live"), "in_progress")
	gen := &fakeGenerator{tasks: proposed("x")}
	engine := NewEngine(s, s, gen, Options{})

	_, err := engine.RegenerateTasks(context.Background(), "p1", "")
	assert.ErrorIs(t, err, ErrStageHasTasks)
	assert.Zero(t, gen.calls)
}

func TestRegenerateTasksRefusesClosedProject(t *testing.T) {
	s := newMemStore(project("outcomes_adoption", "completed"))
	engine := NewEngine(s, s, &fakeGenerator{}, Options{})

	_, err := engine.RegenerateTasks(context.Background(), "p1", "")
	assert.ErrorIs(t, err, ErrProjectClosed)
}
