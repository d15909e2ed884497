package app

import (
	"time"

	"hubo/api/internal/progression"
	"hubo/api/internal/store"
)

func projectJSON(p store.Project) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"description":  p.Description,
		"backlog":      p.Backlog,
		"backlogLabel": progression.Stage(p.Backlog).Label(),
		"status":       p.Status,
		"ownerId":      nilIfEmpty(p.OwnerID),
		"ideaId":       p.IdeaID,
		"createdAt":    timestamp(p.CreatedAt),
		"updatedAt":    timestamp(p.UpdatedAt),
	}
}

func projectsJSON(items []store.Project) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, projectJSON(item))
	}
	return out
}

func taskJSON(t store.Task) map[string]any {
	activities := t.Activities
	if activities == nil {
		activities = []string{}
	}
	return map[string]any{
		"id":              t.ID,
		"projectId":       t.ProjectID,
		"title":           t.Title,
		"description":     t.Description,
		"backlog":         t.Backlog,
		"status":          t.Status,
		"accountableRole": t.AccountableRole,
		"responsibleRole": t.ResponsibleRole,
		"activities":      activities,
		"assigneeId":      t.AssigneeID,
		"createdAt":       timestamp(t.CreatedAt),
		"updatedAt":       timestamp(t.UpdatedAt),
	}
}

func tasksJSON(items []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, taskJSON(item))
	}
	return out
}

func taskChangeJSON(change TaskChange) map[string]any {
	payload := map[string]any{
		"eligibility": change.Eligibility,
		"advance":     change.Advance,
	}
	if change.Task.ID != "" {
		payload["task"] = taskJSON(change.Task)
	}
	return payload
}

func progressionEventJSON(e store.ProgressionEvent) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"fromStage":       e.FromStage,
		"toStage":         e.ToStage,
		"actor":           e.Actor,
		"tasksGenerated":  e.TasksGenerated,
		"generatedCount":  e.GeneratedCount,
		"generationError": nilIfEmpty(e.GenerationError),
		"createdAt":       timestamp(e.CreatedAt),
	}
}

func ideaJSON(i store.Idea) map[string]any {
	return map[string]any{
		"id":          i.ID,
		"title":       i.Title,
		"description": i.Description,
		"source":      i.Source,
		"status":      i.Status,
		"createdBy":   nilIfEmpty(i.CreatedBy),
		"projectId":   i.ProjectID,
		"createdAt":   timestamp(i.CreatedAt),
		"updatedAt":   timestamp(i.UpdatedAt),
	}
}

func attachmentJSON(a store.Attachment, url string) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"ideaId":      a.IdeaID,
		"filename":    a.Filename,
		"contentType": a.ContentType,
		"size":        a.SizeBytes,
		"url":         nilIfEmpty(url),
		"createdAt":   timestamp(a.CreatedAt),
	}
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timestamp(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}
