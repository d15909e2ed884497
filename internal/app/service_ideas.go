package app

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"hubo/api/internal/attachments"
	"hubo/api/internal/generator"
	"hubo/api/internal/progression"
	"hubo/api/internal/search"
	"hubo/api/internal/store"
	"hubo/api/internal/util"
)

type IdeaInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Upload is a file received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type AttachmentView struct {
	store.Attachment
	URL string
}

var ideaStatuses = map[string]struct{}{
	store.IdeaStatusNew:      {},
	store.IdeaStatusPromoted: {},
	store.IdeaStatusArchived: {},
}

var chatRoles = map[string]struct{}{
	"user":      {},
	"assistant": {},
	"system":    {},
}

func (s *Service) ListIdeas(ctx context.Context, status string) ([]store.Idea, error) {
	status = strings.TrimSpace(status)
	if status != "" {
		if _, ok := ideaStatuses[status]; !ok {
			return nil, validationError("invalid status")
		}
	}
	return s.store.ListIdeas(ctx, status)
}

func (s *Service) GetIdea(ctx context.Context, ideaID string) (store.Idea, error) {
	return s.store.GetIdea(ctx, ideaID)
}

func (s *Service) CreateIdea(ctx context.Context, input IdeaInput, userID string) (store.Idea, error) {
	return s.insertIdea(ctx, input.Title, input.Description, "manual", userID)
}

func (s *Service) insertIdea(ctx context.Context, title, description, source, userID string) (store.Idea, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Idea{}, validationError("title is required")
	}
	idea := store.Idea{
		ID:          util.NewID(""),
		Title:       title,
		Description: strings.TrimSpace(description),
		Source:      source,
		Status:      store.IdeaStatusNew,
		CreatedBy:   userID,
	}
	if err := s.store.InsertIdea(ctx, idea); err != nil {
		return store.Idea{}, err
	}
	s.indexIdea(idea)
	return idea, nil
}

// UpdateIdea edits an idea. Only new and archived are settable; promotion
// goes through PromoteIdea and a promoted idea keeps its status.
func (s *Service) UpdateIdea(ctx context.Context, ideaID string, input IdeaInput) (store.Idea, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, err
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		idea.Title = title
	}
	idea.Description = strings.TrimSpace(input.Description)
	if status := strings.TrimSpace(input.Status); status != "" && status != idea.Status {
		if idea.Status == store.IdeaStatusPromoted {
			return store.Idea{}, store.ErrIdeaPromoted
		}
		if status != store.IdeaStatusNew && status != store.IdeaStatusArchived {
			return store.Idea{}, validationError("status must be new or archived")
		}
		idea.Status = status
	}
	if err := s.store.UpdateIdea(ctx, idea); err != nil {
		return store.Idea{}, err
	}
	s.indexIdea(idea)
	return idea, nil
}

// DeleteIdea removes the idea and then, best-effort, its stored files.
func (s *Service) DeleteIdea(ctx context.Context, ideaID string) error {
	files, err := s.store.ListAttachments(ctx, ideaID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteIdea(ctx, ideaID); err != nil {
		return err
	}
	for _, file := range files {
		s.removeObject(ctx, file.ObjectKey)
	}
	if s.search != nil {
		s.search.DeleteIdea(ideaID)
	}
	return nil
}

// PromoteIdea turns an idea into a draft project at the first stage.
func (s *Service) PromoteIdea(ctx context.Context, ideaID, ownerID string) (store.Project, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Project{}, err
	}
	project := store.Project{
		ID:          util.NewID(""),
		Title:       idea.Title,
		Description: idea.Description,
		Backlog:     string(progression.StageBusinessInnovation),
		Status:      store.ProjectStatusDraft,
		OwnerID:     ownerID,
		IdeaID:      &idea.ID,
	}
	if err := s.store.PromoteIdea(ctx, idea.ID, project); err != nil {
		return store.Project{}, err
	}
	idea.Status = store.IdeaStatusPromoted
	idea.ProjectID = &project.ID
	s.indexIdea(idea)
	s.indexProject(project)
	return project, nil
}

func (s *Service) AddAttachment(ctx context.Context, ideaID string, upload Upload, userID string) (store.Attachment, error) {
	if s.attachments == nil {
		return store.Attachment{}, attachments.ErrNotConfigured
	}
	if _, err := s.store.GetIdea(ctx, ideaID); err != nil {
		return store.Attachment{}, err
	}
	obj, err := s.attachments.Upload(ctx, ideaID, upload.Filename, upload.ContentType, upload.Body, upload.Size)
	if err != nil {
		return store.Attachment{}, err
	}
	item := store.Attachment{
		ID:          util.NewID(""),
		IdeaID:      ideaID,
		ObjectKey:   obj.Key,
		Filename:    obj.Filename,
		ContentType: obj.ContentType,
		SizeBytes:   obj.Size,
		UploadedBy:  userID,
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		s.removeObject(ctx, obj.Key)
		return store.Attachment{}, err
	}
	return item, nil
}

// ListAttachments returns the idea's files with short-lived download links.
// A file whose link cannot be signed is listed without one.
func (s *Service) ListAttachments(ctx context.Context, ideaID string) ([]AttachmentView, error) {
	if _, err := s.store.GetIdea(ctx, ideaID); err != nil {
		return nil, err
	}
	files, err := s.store.ListAttachments(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	views := make([]AttachmentView, 0, len(files))
	for _, file := range files {
		view := AttachmentView{Attachment: file}
		if s.attachments != nil {
			link, err := s.attachments.PresignedURL(ctx, file.ObjectKey, file.Filename)
			if err != nil {
				log.Printf("app: presign attachment %s failed: %v", file.ID, err)
			} else {
				view.URL = link
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, ideaID, attachmentID string) error {
	removed, err := s.store.DeleteAttachment(ctx, ideaID, attachmentID)
	if err != nil {
		return err
	}
	s.removeObject(ctx, removed.ObjectKey)
	return nil
}

// GenerateIdea sends a voice note or document to the idea endpoint and
// stores the draft as a new idea.
func (s *Service) GenerateIdea(ctx context.Context, source, prompt string, upload Upload, userID string) (store.Idea, error) {
	if source != "voice" && source != "file" {
		return store.Idea{}, validationError("source must be voice or file")
	}
	if upload.Body == nil {
		return store.Idea{}, validationError("file is required")
	}
	if s.ai == nil {
		return store.Idea{}, generator.ErrNotConfigured
	}
	draft, err := s.ai.GenerateIdea(ctx, generator.IdeaRequest{
		Source:   source,
		Prompt:   prompt,
		Filename: upload.Filename,
		Content:  upload.Body,
	})
	if err != nil {
		return store.Idea{}, err
	}
	return s.insertIdea(ctx, draft.Title, draft.Description, source, userID)
}

func (s *Service) Chat(ctx context.Context, projectID string, messages []generator.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", validationError("messages are required")
	}
	for _, message := range messages {
		if _, ok := chatRoles[message.Role]; !ok {
			return "", validationError("invalid message role")
		}
	}
	if projectID != "" {
		if _, err := s.store.GetProject(ctx, projectID); err != nil {
			return "", err
		}
	}
	if s.ai == nil {
		return "", generator.ErrNotConfigured
	}
	return s.ai.Chat(ctx, generator.ChatRequest{ProjectID: projectID, Messages: messages})
}

func (s *Service) removeObject(ctx context.Context, key string) {
	if s.attachments == nil {
		return
	}
	if err := s.attachments.Delete(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("app: remove object %s failed: %v", key, err)
	}
}

func (s *Service) indexIdea(idea store.Idea) {
	if s.search == nil {
		return
	}
	s.search.IndexIdea(search.IdeaRecord{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Source:      idea.Source,
		Status:      idea.Status,
	})
}
