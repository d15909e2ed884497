package app

import (
	"context"
	"strings"

	"hubo/api/internal/rbac"
	"hubo/api/internal/store"
)

// SetUserRole changes a user's role. Unknown roles are rejected rather than
// normalized, so a typo cannot silently demote someone to viewer. The new
// role applies to the user's next request.
func (s *Service) SetUserRole(ctx context.Context, userID, role string) (store.User, error) {
	role = strings.TrimSpace(role)
	if !rbac.Valid(role) {
		return store.User{}, validationError("role must be viewer, member or admin")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if err := s.store.UpdateUserRole(ctx, user.ID, role); err != nil {
		return store.User{}, err
	}
	user.Role = role
	return user, nil
}

// SetUserRoleByEmail is SetUserRole for operators who know the address, such
// as when granting the first admin from the command line.
func (s *Service) SetUserRoleByEmail(ctx context.Context, email, role string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return store.User{}, err
	}
	return s.SetUserRole(ctx, user.ID, role)
}
