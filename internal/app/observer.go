package app

import (
	"context"
	"log"
	"time"

	"hubo/api/internal/email"
	"hubo/api/internal/events"
	"hubo/api/internal/progression"
	"hubo/api/internal/store"
)

const notifyTimeout = 30 * time.Second

// progressionObserver records and announces every committed transition:
// an audit row, a broker event for watchers, a search reindex and a mail to
// the project owner.
type progressionObserver struct {
	service *Service
}

func (o *progressionObserver) ProjectAdvanced(ctx context.Context, result progression.AdvanceResult, actor string) {
	s := o.service
	err := s.store.InsertProgressionEvent(ctx, store.ProgressionEvent{
		ProjectID:       result.ProjectID,
		FromStage:       string(result.FromStage),
		ToStage:         string(result.ResultStage),
		Actor:           actor,
		TasksGenerated:  result.TasksGenerated,
		GeneratedCount:  result.GeneratedCount,
		GenerationError: result.GenerationError,
	})
	if err != nil {
		log.Printf("app: record progression event for project %s failed: %v", result.ProjectID, err)
	}
	s.publish(events.ProjectAdvanced, result.ProjectID, result)

	project, err := s.store.GetProject(ctx, result.ProjectID)
	if err != nil {
		log.Printf("app: reload project %s after advance failed: %v", result.ProjectID, err)
		return
	}
	s.indexProject(project)
	s.notifyOwner(project, result)
}

func (o *progressionObserver) TasksGenerated(_ context.Context, projectID string, stage progression.Stage, tasks []store.Task) {
	o.service.indexTasks(tasks)
	o.service.publish(events.TasksGenerated, projectID, map[string]any{
		"stage": stage,
		"count": len(tasks),
	})
}

func (s *Service) notifyOwner(project store.Project, result progression.AdvanceResult) {
	if !s.SMTPConfigured() || project.OwnerID == "" {
		return
	}
	notice := email.StageNotice{
		ProjectTitle:    project.Title,
		FromStage:       result.FromStage.Label(),
		ToStage:         result.ResultStage.Label(),
		Completed:       result.ResultStage == progression.StageCompleted,
		GeneratedCount:  result.GeneratedCount,
		GenerationError: result.GenerationError,
		ProjectURL:      s.cfg.AppURL + "/projects/" + project.ID,
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		owner, err := s.store.GetUserByID(ctx, project.OwnerID)
		if err != nil {
			log.Printf("app: load owner of project %s failed: %v", project.ID, err)
			return
		}
		if err := s.mailer.SendStageAdvancedEmail(owner.Email, owner.DisplayName, notice); err != nil {
			log.Printf("app: stage notification for project %s failed: %v", project.ID, err)
		}
	})
}
