package app

import (
	"net/http"
	"strconv"
	"strings"

	"hubo/api/internal/export"
	"hubo/api/internal/rbac"
	"hubo/api/internal/search"
	"hubo/api/internal/store"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			items, err := s.service.ListProjects(r.Context(), store.ProjectFilter{
				Status:  strings.TrimSpace(r.URL.Query().Get("status")),
				Backlog: strings.TrimSpace(r.URL.Query().Get("backlog")),
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": projectsJSON(items)})
		case http.MethodPost:
			if !s.allow(w, session, rbac.ActionWrite) {
				return
			}
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(r.Context(), body, session.UserID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, projectJSON(project))
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID := parts[0]
	rest := parts[1:]
	switch {
	case len(rest) == 0:
		s.handleProject(w, r, session, projectID)
	case rest[0] == "tasks":
		s.handleTasks(w, r, session, projectID, rest[1:])
	case rest[0] == "progression":
		s.handleProgression(w, r, session, projectID, rest[1:])
	case rest[0] == "export" && len(rest) == 1:
		s.handleExport(w, r, session, projectID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	switch r.Method {
	case http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		detail, err := s.service.GetProject(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := projectJSON(detail.Project)
		payload["eligibility"] = detail.Eligibility
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body ProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.UpdateProject(r.Context(), projectID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projectJSON(project))
	case http.MethodDelete:
		if !s.allow(w, session, rbac.ActionAdmin) {
			return
		}
		if err := s.service.DeleteProject(r.Context(), projectID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListTasks(r.Context(), projectID, store.TaskFilter{
			Backlog: strings.TrimSpace(r.URL.Query().Get("backlog")),
			Status:  strings.TrimSpace(r.URL.Query().Get("status")),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasksJSON(items)})

	case len(parts) == 0 && r.Method == http.MethodPost:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body TaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		change, err := s.service.CreateTask(r.Context(), projectID, body, session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, taskChangeJSON(change))

	case len(parts) == 1 && r.Method == http.MethodPut:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		var body TaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		change, err := s.service.UpdateTask(r.Context(), projectID, parts[0], body, session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskChangeJSON(change))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !s.allow(w, session, rbac.ActionWrite) {
			return
		}
		change, err := s.service.DeleteTask(r.Context(), projectID, parts[0], session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskChangeJSON(change))

	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		if !s.allow(w, session, rbac.ActionProgress) {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		change, err := s.service.SetTaskStatus(r.Context(), projectID, parts[0], body.Status, session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskChangeJSON(change))

	case len(parts) <= 2:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProgression(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	action := ""
	if len(parts) == 1 {
		action = parts[0]
	} else if len(parts) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		eligibility, err := s.service.EvaluateProgression(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, eligibility)

	case action == "advance" && r.Method == http.MethodPost:
		if !s.allow(w, session, rbac.ActionProgress) {
			return
		}
		result, err := s.service.AdvanceProject(r.Context(), projectID, session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			if result.Advanced {
				// The stage moved but storing the generated tasks failed.
				writeJSON(w, http.StatusOK, result)
				return
			}
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "generate" && r.Method == http.MethodPost:
		if !s.allow(w, session, rbac.ActionProgress) {
			return
		}
		var body struct {
			AdditionalContext string `json:"additionalContext"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.RegenerateTasks(r.Context(), projectID, body.AdditionalContext)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"projectId": result.ProjectID,
			"stage":     result.Stage,
			"count":     result.Count,
			"tasks":     tasksJSON(result.Tasks),
		})

	case action == "history" && r.Method == http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ProgressionHistory(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		history := make([]map[string]any, 0, len(items))
		for _, item := range items {
			history = append(history, progressionEventJSON(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})

	case action == "watch" && r.Method == http.MethodGet:
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		s.handleWatch(w, r, projectID)

	case action == "" || action == "advance" || action == "generate" || action == "history" || action == "watch":
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.ActionRead) {
		return
	}
	format, ok := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
		return
	}
	includeHistory := r.URL.Query().Get("history") != "false"

	result, err := s.service.ExportProject(r.Context(), projectID, format, includeHistory)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.ActionRead) {
		return
	}
	query := r.URL.Query()
	limit, offset := 20, 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	payload, err := s.service.Search(r.Context(), search.Query{
		Text:            strings.TrimSpace(query.Get("q")),
		FilterType:      search.ResultType(strings.TrimSpace(query.Get("type"))),
		FilterProjectID: strings.TrimSpace(query.Get("projectId")),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.ActionRead) {
		return
	}
	counts, err := s.service.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projectsByStatus":  counts.ByStatus,
		"projectsByBacklog": counts.ByBacklog,
		"openTasks":         counts.OpenTasks,
		"doneTasks":         counts.DoneTasks,
		"newIdeas":          counts.NewIdeas,
	})
}
