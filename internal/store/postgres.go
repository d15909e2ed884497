package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIdeaPromoted is returned when an idea already has a project.
var ErrIdeaPromoted = errors.New("idea already promoted")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var expires sql.NullTime
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.VerificationToken, &expires, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if expires.Valid {
		user.VerificationExpiresAt = &expires.Time
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, strings.TrimSpace(user.Email), user.PasswordHash, role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.is_email_verified,
			COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const projectColumns = `id, title, description, backlog, status, COALESCE(owner_id, ''), idea_id, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var item Project
	var ideaID sql.NullString
	err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Backlog, &item.Status, &item.OwnerID, &ideaID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if ideaID.Valid {
		item.IdeaID = &ideaID.String
	}
	return item, nil
}

type ProjectFilter struct {
	Status  string
	Backlog string
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR backlog = $2)
		ORDER BY updated_at DESC
	`, filter.Status, filter.Backlog)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID)
	return scanProject(row)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, backlog, status, owner_id, idea_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, item.ID, item.Title, item.Description, item.Backlog, item.Status, item.OwnerID, item.IdeaID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// UpdateProject writes title, description and status. Backlog is owned by
// the progression engine and is never written here.
func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET title=$2, description=$3, status=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Status)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return expectRow(result)
}

// AdvanceProjectBacklog is the compare-and-swap used by the progression
// engine. It reports false when another writer moved the project first.
func (s *PostgresStore) AdvanceProjectBacklog(ctx context.Context, projectID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET backlog=$3, updated_at=NOW()
		WHERE id=$1 AND backlog=$2 AND status NOT IN ('completed', 'archived')
	`, projectID, from, to)
	if err != nil {
		return false, fmt.Errorf("advance project backlog: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance project backlog: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) CompleteProject(ctx context.Context, projectID, backlog string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET status='completed', updated_at=NOW()
		WHERE id=$1 AND backlog=$2 AND status NOT IN ('completed', 'archived')
	`, projectID, backlog)
	if err != nil {
		return false, fmt.Errorf("complete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete project: %w", err)
	}
	return affected == 1, nil
}

const taskColumns = `id, project_id, title, description, backlog, status, accountable_role, responsible_role, activities::text, assignee_id, created_at, updated_at`

// decodeActivities reads the activities JSON column. NULL or empty yields an
// empty list; anything else must be a JSON array of strings.
func decodeActivities(raw []byte) ([]string, error) {
	activities := []string{}
	if len(raw) == 0 {
		return activities, nil
	}
	if err := json.Unmarshal(raw, &activities); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	if activities == nil {
		activities = []string{}
	}
	return activities, nil
}

func scanTask(row rowScanner) (Task, error) {
	var item Task
	var activitiesRaw []byte
	var assignee sql.NullString
	err := row.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Backlog, &item.Status, &item.AccountableRole, &item.ResponsibleRole, &activitiesRaw, &assignee, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	item.Activities, err = decodeActivities(activitiesRaw)
	if err != nil {
		return Task{}, fmt.Errorf("task %s: %w", item.ID, err)
	}
	if assignee.Valid {
		item.AssigneeID = &assignee.String
	}
	return item, nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id=$1 AND ($2 = '' OR backlog = $2) AND ($3 = '' OR status = $3)
		ORDER BY created_at ASC, id ASC
	`, projectID, filter.Backlog, filter.Status)
}

// ListTasksByStage returns the tasks created for one stage of a project in a
// single query.
func (s *PostgresStore) ListTasksByStage(ctx context.Context, projectID, backlog string) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id=$1 AND backlog=$2
		ORDER BY created_at ASC, id ASC
	`, projectID, backlog)
}

func (s *PostgresStore) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 AND id=$2`, projectID, taskID)
	return scanTask(row)
}

func (s *PostgresStore) InsertTask(ctx context.Context, item Task) error {
	return s.InsertTasks(ctx, []Task{item})
}

// InsertTasks writes the batch in one transaction.
func (s *PostgresStore) InsertTasks(ctx context.Context, items []Task) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tasks: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		activities, err := encodeActivities(item.Activities)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, title, description, backlog, status, accountable_role, responsible_role, activities, assignee_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		`, item.ID, item.ProjectID, item.Title, item.Description, item.Backlog, item.Status, item.AccountableRole, item.ResponsibleRole, activities, item.AssigneeID); err != nil {
			return fmt.Errorf("insert task %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert tasks: %w", err)
	}
	return nil
}

// UpdateTask writes the editable fields. The stage a task belongs to is
// fixed at creation.
func (s *PostgresStore) UpdateTask(ctx context.Context, item Task) error {
	activities, err := encodeActivities(item.Activities)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$3, description=$4, status=$5, accountable_role=$6, responsible_role=$7, activities=$8::jsonb, assignee_id=$9, updated_at=NOW()
		WHERE project_id=$1 AND id=$2
	`, item.ProjectID, item.ID, item.Title, item.Description, item.Status, item.AccountableRole, item.ResponsibleRole, activities, item.AssigneeID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, projectID, taskID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$3, updated_at=NOW() WHERE project_id=$1 AND id=$2
	`, projectID, taskID, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, projectID, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=$1 AND id=$2`, projectID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) InsertProgressionEvent(ctx context.Context, event ProgressionEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progression_events (project_id, from_stage, to_stage, actor, tasks_generated, generated_count, generation_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ProjectID, event.FromStage, event.ToStage, event.Actor, event.TasksGenerated, event.GeneratedCount, event.GenerationError)
	if err != nil {
		return fmt.Errorf("insert progression event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProgressionEvents(ctx context.Context, projectID string) ([]ProgressionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, from_stage, to_stage, actor, tasks_generated, generated_count, generation_error, created_at
		FROM progression_events
		WHERE project_id=$1
		ORDER BY created_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list progression events: %w", err)
	}
	defer rows.Close()

	items := make([]ProgressionEvent, 0)
	for rows.Next() {
		var item ProgressionEvent
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.FromStage, &item.ToStage, &item.Actor, &item.TasksGenerated, &item.GeneratedCount, &item.GenerationError, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan progression event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progression events: %w", err)
	}
	return items, nil
}

const ideaColumns = `id, title, description, source, status, COALESCE(created_by, ''), project_id, created_at, updated_at`

func scanIdea(row rowScanner) (Idea, error) {
	var item Idea
	var projectID sql.NullString
	err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Source, &item.Status, &item.CreatedBy, &projectID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Idea{}, err
	}
	if projectID.Valid {
		item.ProjectID = &projectID.String
	}
	return item, nil
}

func (s *PostgresStore) ListIdeas(ctx context.Context, status string) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID)
	return scanIdea(row)
}

func (s *PostgresStore) InsertIdea(ctx context.Context, item Idea) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, source, status, created_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, item.ID, item.Title, item.Description, item.Source, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert idea: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIdea(ctx context.Context, item Idea) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET title=$2, description=$3, status=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Status)
	if err != nil {
		return fmt.Errorf("update idea: %w", err)
	}
	return expectRow(result)
}

func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ideas WHERE id=$1`, ideaID)
	if err != nil {
		return fmt.Errorf("delete idea: %w", err)
	}
	return expectRow(result)
}

// PromoteIdea creates the project and links the idea to it in one
// transaction. An idea can be promoted once.
func (s *PostgresStore) PromoteIdea(ctx context.Context, ideaID string, project Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote idea: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM ideas WHERE id=$1 FOR UPDATE`, ideaID).Scan(&status)
	if err != nil {
		return err
	}
	if status == IdeaStatusPromoted {
		return ErrIdeaPromoted
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, backlog, status, owner_id, idea_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, project.ID, project.Title, project.Description, project.Backlog, project.Status, project.OwnerID, ideaID); err != nil {
		return fmt.Errorf("insert promoted project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ideas SET status='promoted', project_id=$2, updated_at=NOW() WHERE id=$1
	`, ideaID, project.ID); err != nil {
		return fmt.Errorf("mark idea promoted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote idea: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idea_attachments (id, idea_id, object_key, filename, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, item.ID, item.IdeaID, item.ObjectKey, item.Filename, item.ContentType, item.SizeBytes, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, ideaID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idea_id, object_key, filename, content_type, size_bytes, COALESCE(uploaded_by, ''), created_at
		FROM idea_attachments
		WHERE idea_id=$1
		ORDER BY created_at ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.IdeaID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, ideaID, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM idea_attachments WHERE idea_id=$1 AND id=$2
		RETURNING id, idea_id, object_key, filename, content_type, size_bytes, COALESCE(uploaded_by, ''), created_at
	`, ideaID, attachmentID).Scan(&item.ID, &item.IdeaID, &item.ObjectKey, &item.Filename, &item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ProjectCounts(ctx context.Context) (map[string]int, map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, backlog, COUNT(*) FROM projects GROUP BY status, backlog`)
	if err != nil {
		return nil, nil, fmt.Errorf("count projects: %w", err)
	}
	defer rows.Close()

	byStatus := map[string]int{}
	byBacklog := map[string]int{}
	for rows.Next() {
		var status, backlog string
		var count int
		if err := rows.Scan(&status, &backlog, &count); err != nil {
			return nil, nil, fmt.Errorf("scan project count: %w", err)
		}
		byStatus[status] += count
		// Completed projects keep their last backlog; they are not counted
		// as work in that stage.
		if status != ProjectStatusCompleted && status != ProjectStatusArchived {
			byBacklog[backlog] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate project counts: %w", err)
	}
	return byStatus, byBacklog, nil
}

func (s *PostgresStore) TaskCounts(ctx context.Context) (open int, done int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status <> 'done'), COUNT(*) FILTER (WHERE status = 'done') FROM tasks
	`).Scan(&open, &done)
	if err != nil {
		return 0, 0, fmt.Errorf("count tasks: %w", err)
	}
	return open, done, nil
}

func (s *PostgresStore) CountNewIdeas(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ideas WHERE status='new'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ideas: %w", err)
	}
	return count, nil
}

func encodeActivities(activities []string) (string, error) {
	if activities == nil {
		activities = []string{}
	}
	encoded, err := json.Marshal(activities)
	if err != nil {
		return "", fmt.Errorf("encode activities: %w", err)
	}
	return string(encoded), nil
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
