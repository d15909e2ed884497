package app

import (
	"context"
	"io"
	"strings"
	"time"

	"hubo/api/internal/attachments"
	"hubo/api/internal/auth"
	"hubo/api/internal/authpw"
	"hubo/api/internal/config"
	"hubo/api/internal/email"
	"hubo/api/internal/events"
	"hubo/api/internal/export"
	"hubo/api/internal/generator"
	"hubo/api/internal/progression"
	"hubo/api/internal/rbac"
	"hubo/api/internal/search"
	"hubo/api/internal/store"
	"hubo/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	sessionStore
	Ping(ctx context.Context) error
	UpdateUserRole(ctx context.Context, userID, role string) error

	ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	InsertProject(ctx context.Context, item store.Project) error
	UpdateProject(ctx context.Context, item store.Project) error
	DeleteProject(ctx context.Context, projectID string) error
	AdvanceProjectBacklog(ctx context.Context, projectID, from, to string) (bool, error)
	CompleteProject(ctx context.Context, projectID, backlog string) (bool, error)

	ListTasks(ctx context.Context, projectID string, filter store.TaskFilter) ([]store.Task, error)
	ListTasksByStage(ctx context.Context, projectID, backlog string) ([]store.Task, error)
	GetTask(ctx context.Context, projectID, taskID string) (store.Task, error)
	InsertTask(ctx context.Context, item store.Task) error
	InsertTasks(ctx context.Context, items []store.Task) error
	UpdateTask(ctx context.Context, item store.Task) error
	UpdateTaskStatus(ctx context.Context, projectID, taskID, status string) error
	DeleteTask(ctx context.Context, projectID, taskID string) error

	InsertProgressionEvent(ctx context.Context, event store.ProgressionEvent) error
	ListProgressionEvents(ctx context.Context, projectID string) ([]store.ProgressionEvent, error)

	ListIdeas(ctx context.Context, status string) ([]store.Idea, error)
	GetIdea(ctx context.Context, ideaID string) (store.Idea, error)
	InsertIdea(ctx context.Context, item store.Idea) error
	UpdateIdea(ctx context.Context, item store.Idea) error
	DeleteIdea(ctx context.Context, ideaID string) error
	PromoteIdea(ctx context.Context, ideaID string, project store.Project) error

	InsertAttachment(ctx context.Context, item store.Attachment) error
	ListAttachments(ctx context.Context, ideaID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, ideaID, attachmentID string) (store.Attachment, error)

	ProjectCounts(ctx context.Context) (map[string]int, map[string]int, error)
	TaskCounts(ctx context.Context) (int, int, error)
	CountNewIdeas(ctx context.Context) (int, error)
}

// sessionStore keeps refresh sessions and revoked access tokens. The
// Postgres store and session.RedisStore both satisfy it.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// aiClient is the hosted AI surface. *generator.Client satisfies it.
type aiClient interface {
	progression.TaskGenerator
	GenerateIdea(ctx context.Context, req generator.IdeaRequest) (generator.IdeaDraft, error)
	Chat(ctx context.Context, req generator.ChatRequest) (string, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProject(record search.ProjectRecord)
	IndexTasks(records []search.TaskRecord)
	IndexIdea(record search.IdeaRecord)
	DeleteProject(id string)
	DeleteTask(id string)
	DeleteIdea(id string)
}

type objectStore interface {
	Upload(ctx context.Context, ideaID, filename, contentType string, r io.Reader, size int64) (attachments.Object, error)
	PresignedURL(ctx context.Context, key, filename string) (string, error)
	Delete(ctx context.Context, key string) error
}

type mailer interface {
	authpw.Mailer
	SendStageAdvancedEmail(to, userName string, notice email.StageNotice) error
}

type reportExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators of Service. Only Store is required; Sessions
// defaults to Store.
type Deps struct {
	Store       dataStore
	Sessions    sessionStore
	AI          aiClient
	Search      searchIndex
	Attachments objectStore
	Mailer      mailer
	Broker      *events.Broker
	Exporter    reportExporter
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    sessionStore
	ai          aiClient
	search      searchIndex
	attachments objectStore
	mailer      mailer
	broker      *events.Broker
	exporter    reportExporter
	authpw      *authpw.Service
	engine      *progression.Engine
	// async runs fire-and-forget work such as notification mail.
	async func(func())
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		sessions:    deps.Sessions,
		ai:          deps.AI,
		search:      deps.Search,
		attachments: deps.Attachments,
		mailer:      deps.Mailer,
		broker:      deps.Broker,
		exporter:    deps.Exporter,
		async:       func(fn func()) { go fn() },
	}
	if s.sessions == nil {
		s.sessions = deps.Store
	}
	if s.broker == nil {
		s.broker = events.NewBroker(0)
	}
	if s.exporter == nil {
		s.exporter = export.NewService(deps.Store)
	}

	var authMailer authpw.Mailer
	if deps.Mailer != nil {
		authMailer = deps.Mailer
	}
	s.authpw = authpw.NewService(deps.Store, authMailer, cfg.AppURL)

	var gen progression.TaskGenerator
	if deps.AI != nil {
		gen = deps.AI
	}
	s.engine = progression.NewEngine(deps.Store, deps.Store, gen, progression.Options{
		GenerationTimeout: cfg.GeneratorTimeout,
		Observer:          &progressionObserver{service: s},
	})
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Broker() *events.Broker {
	return s.broker
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues an access token and a refresh token for a user who
// has just signed in.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so a role change
// takes effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
