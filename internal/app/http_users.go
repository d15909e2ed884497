package app

import (
	"net/http"

	"hubo/api/internal/rbac"
)

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 2 || parts[1] != "role" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.ActionAdmin) {
		return
	}
	userID := parts[0]
	if userID == session.UserID {
		writeError(w, http.StatusConflict, "OWN_ROLE", "Admins cannot change their own role", nil)
		return
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SetUserRole(r.Context(), userID, body.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
	})
}
