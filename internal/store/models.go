package store

import "time"

const (
	TaskStatusTodo       = "todo"
	TaskStatusUnassigned = "unassigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

const (
	ProjectStatusDraft     = "draft"
	ProjectStatusRecent    = "recent"
	ProjectStatusLive      = "live"
	ProjectStatusCompleted = "completed"
	ProjectStatusArchived  = "archived"
)

const (
	IdeaStatusNew      = "new"
	IdeaStatusPromoted = "promoted"
	IdeaStatusArchived = "archived"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Project backlog and status are independent: backlog is the workflow
// stage, status the lifecycle. A completed project keeps the backlog of
// the last stage it worked in.
type Project struct {
	ID          string
	Title       string
	Description string
	Backlog     string
	Status      string
	OwnerID     string
	IdeaID      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task.Backlog is the stage the task was created for, not the project's
// current stage.
type Task struct {
	ID              string
	ProjectID       string
	Title           string
	Description     string
	Backlog         string
	Status          string
	AccountableRole string
	ResponsibleRole string
	Activities      []string
	AssigneeID      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TaskFilter struct {
	Backlog string
	Status  string
}

type ProgressionEvent struct {
	ID              int64
	ProjectID       string
	FromStage       string
	ToStage         string
	Actor           string
	TasksGenerated  bool
	GeneratedCount  int
	GenerationError string
	CreatedAt       time.Time
}

type Idea struct {
	ID          string
	Title       string
	Description string
	Source      string // manual, voice, file, generated
	Status      string
	CreatedBy   string
	ProjectID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attachment struct {
	ID          string
	IdeaID      string
	ObjectKey   string
	Filename    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

// DashboardCounts groups project counts for the dashboard header.
type DashboardCounts struct {
	ByStatus  map[string]int
	ByBacklog map[string]int
	OpenTasks int
	DoneTasks int
	NewIdeas  int
}
