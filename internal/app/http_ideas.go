package app

import (
	"net/http"
	"strings"

	"hubo/api/internal/attachments"
	"hubo/api/internal/generator"
	"hubo/api/internal/rbac"
)

const multipartMemory = 8 << 20

func (s *HTTPServer) handleIdeas(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			items, err := s.service.ListIdeas(r.Context(), r.URL.Query().Get("status"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			ideas := make([]map[string]any, 0, len(items))
			for _, item := range items {
				ideas = append(ideas, ideaJSON(item))
			}
			writeJSON(w, http.StatusOK, map[string]any{"ideas": ideas})
		case http.MethodPost:
			if !s.allow(w, session, rbac.ActionWrite) {
				return
			}
			var body IdeaInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			idea, err := s.service.CreateIdea(r.Context(), body, session.UserID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, ideaJSON(idea))
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "generate" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		s.handleGenerateIdea(w, r, session)
		return
	}

	ideaID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleIdea(w, r, session, ideaID)
	case len(parts) == 2 && parts[1] == "promote":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		project, err := s.service.PromoteIdea(r.Context(), ideaID, session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, projectJSON(project))
	case len(parts) == 2 && parts[1] == "attachments":
		s.handleAttachments(w, r, session, ideaID)
	case len(parts) == 3 && parts[1] == "attachments":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteAttachment(r.Context(), ideaID, parts[2]); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleIdea(w http.ResponseWriter, r *http.Request, session Session, ideaID string) {
	switch r.Method {
	case http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		idea, err := s.service.GetIdea(r.Context(), ideaID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ideaJSON(idea))
	case http.MethodPut:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body IdeaInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		idea, err := s.service.UpdateIdea(r.Context(), ideaID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ideaJSON(idea))
	case http.MethodDelete:
		if !s.allow(w, session, rbac.ActionAdmin) {
			return
		}
		if err := s.service.DeleteIdea(r.Context(), ideaID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, session Session, ideaID string) {
	switch r.Method {
	case http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		views, err := s.service.ListAttachments(r.Context(), ideaID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(views))
		for _, view := range views {
			items = append(items, attachmentJSON(view.Attachment, view.URL))
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
	case http.MethodPost:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		upload, cleanup, ok := readUpload(w, r)
		if !ok {
			return
		}
		defer cleanup()
		item, err := s.service.AddAttachment(r.Context(), ideaID, upload, session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, attachmentJSON(item, ""))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleGenerateIdea(w http.ResponseWriter, r *http.Request, session Session) {
	upload, cleanup, ok := readUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()
	idea, err := s.service.GenerateIdea(r.Context(),
		strings.TrimSpace(r.FormValue("source")),
		r.FormValue("prompt"),
		upload,
		session.UserID,
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ideaJSON(idea))
}

func (s *HTTPServer) handleAssistant(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 || parts[0] != "chat" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.ActionRead) {
		return
	}
	var body struct {
		ProjectID string                  `json:"projectId"`
		Messages  []generator.ChatMessage `json:"messages"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	reply, err := s.service.Chat(r.Context(), strings.TrimSpace(body.ProjectID), body.Messages)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

// readUpload parses a multipart form and returns its "file" part.
func readUpload(w http.ResponseWriter, r *http.Request) (Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return Upload{}, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return Upload{}, nil, false
	}
	cleanup := func() {
		_ = file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}
	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, cleanup, true
}
