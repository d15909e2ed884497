package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"hubo/api/internal/attachments"
	"hubo/api/internal/config"
	"hubo/api/internal/email"
	"hubo/api/internal/generator"
	"hubo/api/internal/store"
)

// fakeStore is an in-memory dataStore. The fn fields override single
// methods for error injection.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	projects    map[string]store.Project
	tasks       []store.Task
	events      []store.ProgressionEvent
	ideas       map[string]store.Idea
	attachments []store.Attachment
	refresh     map[string]string
	revoked     map[string]bool
	resets      map[string]string

	pingFn             func(context.Context) error
	insertAttachmentFn func(context.Context, store.Attachment) error
	insertTasksFn      func(context.Context, []store.Task) error
	projectCountsFn    func(context.Context) (map[string]int, map[string]int, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		projects: map[string]store.Project{},
		ideas:    map[string]store.Idea{},
		refresh:  map[string]string{},
		revoked:  map[string]bool{},
		resets:   map[string]string{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if token != "" && user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListProjects(_ context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Project{}
	for _, p := range f.projects {
		if (filter.Status == "" || p.Status == filter.Status) && (filter.Backlog == "" || p.Backlog == filter.Backlog) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertProject(_ context.Context, item store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, item store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.projects[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Title, current.Description, current.Status = item.Title, item.Description, item.Status
	f.projects[item.ID] = current
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.projects, projectID)
	kept := f.tasks[:0]
	for _, task := range f.tasks {
		if task.ProjectID != projectID {
			kept = append(kept, task)
		}
	}
	f.tasks = kept
	return nil
}

func (f *fakeStore) AdvanceProjectBacklog(_ context.Context, projectID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.Backlog != from || p.Status == store.ProjectStatusCompleted || p.Status == store.ProjectStatusArchived {
		return false, nil
	}
	p.Backlog = to
	f.projects[projectID] = p
	return true, nil
}

func (f *fakeStore) CompleteProject(_ context.Context, projectID, backlog string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.Backlog != backlog || p.Status == store.ProjectStatusCompleted || p.Status == store.ProjectStatusArchived {
		return false, nil
	}
	p.Status = store.ProjectStatusCompleted
	f.projects[projectID] = p
	return true, nil
}

func (f *fakeStore) ListTasks(_ context.Context, projectID string, filter store.TaskFilter) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Task{}
	for _, task := range f.tasks {
		if task.ProjectID == projectID && (filter.Backlog == "" || task.Backlog == filter.Backlog) && (filter.Status == "" || task.Status == filter.Status) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTasksByStage(ctx context.Context, projectID, backlog string) ([]store.Task, error) {
	return f.ListTasks(ctx, projectID, store.TaskFilter{Backlog: backlog})
}

func (f *fakeStore) GetTask(_ context.Context, projectID, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ProjectID == projectID && task.ID == taskID {
			return task, nil
		}
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) InsertTask(ctx context.Context, item store.Task) error {
	return f.InsertTasks(ctx, []store.Task{item})
}

func (f *fakeStore) InsertTasks(ctx context.Context, items []store.Task) error {
	if f.insertTasksFn != nil {
		return f.insertTasksFn(ctx, items)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, items...)
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, item store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, task := range f.tasks {
		if task.ProjectID == item.ProjectID && task.ID == item.ID {
			item.Backlog = task.Backlog
			f.tasks[i] = item
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, projectID, taskID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, task := range f.tasks {
		if task.ProjectID == projectID && task.ID == taskID {
			f.tasks[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteTask(_ context.Context, projectID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, task := range f.tasks {
		if task.ProjectID == projectID && task.ID == taskID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) InsertProgressionEvent(_ context.Context, event store.ProgressionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	event.CreatedAt = time.Now()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) ListProgressionEvents(_ context.Context, projectID string) ([]store.ProgressionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.ProgressionEvent{}
	for _, event := range f.events {
		if event.ProjectID == projectID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) ListIdeas(_ context.Context, status string) ([]store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Idea{}
	for _, idea := range f.ideas {
		if status == "" || idea.Status == status {
			out = append(out, idea)
		}
	}
	return out, nil
}

func (f *fakeStore) GetIdea(_ context.Context, ideaID string) (store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idea, ok := f.ideas[ideaID]
	if !ok {
		return store.Idea{}, sql.ErrNoRows
	}
	return idea, nil
}

func (f *fakeStore) InsertIdea(_ context.Context, item store.Idea) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ideas[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateIdea(_ context.Context, item store.Idea) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ideas[item.ID]; !ok {
		return sql.ErrNoRows
	}
	f.ideas[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteIdea(_ context.Context, ideaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ideas[ideaID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.ideas, ideaID)
	return nil
}

func (f *fakeStore) PromoteIdea(_ context.Context, ideaID string, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idea, ok := f.ideas[ideaID]
	if !ok {
		return sql.ErrNoRows
	}
	if idea.Status == store.IdeaStatusPromoted {
		return store.ErrIdeaPromoted
	}
	project.IdeaID = &idea.ID
	f.projects[project.ID] = project
	idea.Status = store.IdeaStatusPromoted
	idea.ProjectID = &project.ID
	f.ideas[ideaID] = idea
	return nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, item store.Attachment) error {
	if f.insertAttachmentFn != nil {
		return f.insertAttachmentFn(ctx, item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments = append(f.attachments, item)
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, ideaID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Attachment{}
	for _, item := range f.attachments {
		if item.IdeaID == ideaID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, ideaID, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, item := range f.attachments {
		if item.IdeaID == ideaID && item.ID == attachmentID {
			f.attachments = append(f.attachments[:i], f.attachments[i+1:]...)
			return item, nil
		}
	}
	return store.Attachment{}, sql.ErrNoRows
}

func (f *fakeStore) ProjectCounts(ctx context.Context) (map[string]int, map[string]int, error) {
	if f.projectCountsFn != nil {
		return f.projectCountsFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	byStatus, byBacklog := map[string]int{}, map[string]int{}
	for _, p := range f.projects {
		byStatus[p.Status]++
		if p.Status != store.ProjectStatusCompleted && p.Status != store.ProjectStatusArchived {
			byBacklog[p.Backlog]++
		}
	}
	return byStatus, byBacklog, nil
}

func (f *fakeStore) TaskCounts(_ context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	open, done := 0, 0
	for _, task := range f.tasks {
		if task.Status == store.TaskStatusDone {
			done++
		} else {
			open++
		}
	}
	return open, done, nil
}

func (f *fakeStore) CountNewIdeas(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, idea := range f.ideas {
		if idea.Status == store.IdeaStatusNew {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) project(id string) store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[id]
}

func (f *fakeStore) stageTasks(projectID, backlog string) []store.Task {
	tasks, _ := f.ListTasksByStage(context.Background(), projectID, backlog)
	return tasks
}

type fakeAI struct {
	mu        sync.Mutex
	tasks     []generator.ProposedTask
	err       error
	requests  []generator.TaskRequest
	draft     generator.IdeaDraft
	ideaBody  string
	chatReply string
	chats     []generator.ChatRequest
}

func (f *fakeAI) GenerateTasks(_ context.Context, req generator.TaskRequest) ([]generator.ProposedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks, nil
}

func (f *fakeAI) GenerateIdea(_ context.Context, req generator.IdeaRequest) (generator.IdeaDraft, error) {
	body, _ := io.ReadAll(req.Content)
	f.ideaBody = string(body)
	if f.err != nil {
		return generator.IdeaDraft{}, f.err
	}
	return f.draft, nil
}

func (f *fakeAI) Chat(_ context.Context, req generator.ChatRequest) (string, error) {
	f.chats = append(f.chats, req)
	if f.err != nil {
		return "", f.err
	}
	return f.chatReply, nil
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeObjects struct {
	objects map[string]string
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]string{}}
}

func (f *fakeObjects) Upload(_ context.Context, ideaID, filename, contentType string, r io.Reader, size int64) (attachments.Object, error) {
	if size == 0 {
		return attachments.Object{}, attachments.ErrEmptyUpload
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return attachments.Object{}, err
	}
	key := "ideas/" + ideaID + "/" + filename
	f.objects[key] = string(body)
	return attachments.Object{Key: key, Filename: filename, ContentType: contentType, Size: size}, nil
}

func (f *fakeObjects) PresignedURL(_ context.Context, key, _ string) (string, error) {
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("no such object")
	}
	return "http://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

type sentMail struct {
	to     string
	name   string
	notice email.StageNotice
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendVerificationEmail(string, string, string) error { return nil }

func (m *fakeMailer) SendPasswordResetEmail(string, string, string) error { return nil }

func (m *fakeMailer) SendStageAdvancedEmail(to, userName string, notice email.StageNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, name: userName, notice: notice})
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppURL:           "http://hubo.test",
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		RefreshTTL:       24 * time.Hour,
		GeneratorTimeout: time.Second,
		AutoAdvance:      true,
	}
}

func newTestService(fs *fakeStore, deps Deps) *Service {
	deps.Store = fs
	svc := New(testConfig(), deps)
	svc.async = func(fn func()) { fn() }
	return svc
}

func addUser(fs *fakeStore, id, role string) store.User {
	user := store.User{
		ID:              id,
		DisplayName:     "User " + id,
		Email:           id + "@hubo.test",
		Role:            role,
		IsEmailVerified: true,
	}
	fs.users[id] = user
	return user
}

func tokenFor(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.Token
}

// seedProject stores a project with the given tasks, each "title:status".
func seedProject(fs *fakeStore, id, backlog, status string, tasks ...string) {
	fs.projects[id] = store.Project{ID: id, Title: "Project " + id, Backlog: backlog, Status: status, OwnerID: "owner"}
	for i, entry := range tasks {
		title, taskStatus, _ := strings.Cut(entry, ":")
		fs.tasks = append(fs.tasks, store.Task{
			ID:        id + "-t" + string(rune('a'+i)),
			ProjectID: id,
			Title:     title,
			Backlog:   backlog,
			Status:    taskStatus,
		})
	}
}
