package app

import (
	"context"
	"net/http"
	"strings"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/store"
)

// ProfileUpdate carries the editable profile fields. Blank strings keep the
// current value; a nil NotifyEmail keeps the current setting.
type ProfileUpdate struct {
	DisplayName string
	AvatarColor string
	NotifyEmail *bool
}

func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return profilePayload(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileUpdate) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	displayName := firstNonBlank(input.DisplayName, user.DisplayName)
	if displayName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "display name must not be empty", nil)
	}
	avatarColor := firstNonBlank(input.AvatarColor, user.AvatarColor)
	notifyEmail := user.NotifyEmail
	if input.NotifyEmail != nil {
		notifyEmail = *input.NotifyEmail
	}

	if err := s.store.UpdateUserProfile(ctx, user.ID, displayName, avatarColor, notifyEmail); err != nil {
		return nil, err
	}
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.publish("users", realtime.ActionUpdate, user.ID, directoryPayload(user), false)
	return profilePayload(user), nil
}

// ListProfiles is the assignee-picker directory: active internal users only.
func (s *Service) ListProfiles(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(users))
	for _, user := range users {
		if user.DeactivatedAt != nil || user.IsExternal {
			continue
		}
		out = append(out, directoryPayload(user))
	}
	return out, nil
}

// weakPINs are rejected outright when setting the vault PIN.
var weakPINs = map[string]struct{}{
	"0000": {}, "1111": {}, "2222": {}, "3333": {}, "4444": {},
	"5555": {}, "6666": {}, "7777": {}, "8888": {}, "9999": {},
	"1234": {}, "4321": {}, "0123": {}, "1122": {}, "2580": {},
	"000000": {}, "111111": {}, "123456": {}, "654321": {}, "121212": {},
}

func (s *Service) SetAccessPIN(ctx context.Context, session Session, pin string) error {
	pin = strings.TrimSpace(pin)
	if len(pin) < 4 || len(pin) > 6 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pin must be 4 to 6 digits", nil)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pin must be 4 to 6 digits", nil)
		}
	}
	if _, weak := weakPINs[pin]; weak {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pin is too easy to guess", nil)
	}
	return s.store.UpdateUserPIN(ctx, session.UserID, pin)
}

func (s *Service) VerifyAccessPIN(ctx context.Context, session Session, pin string) (bool, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return false, err
	}
	if user.AccessPIN == "" {
		return false, domainError(http.StatusForbidden, "PIN_NOT_SET", "No access PIN has been set", nil)
	}
	return pin == user.AccessPIN, nil
}

// checkAccessPIN gates the credentials vault. The caller's PIN arrives in the
// X-Access-Pin header on every vault request.
func (s *Service) checkAccessPIN(ctx context.Context, session Session, pin string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.AccessPIN == "" {
		return domainError(http.StatusForbidden, "PIN_NOT_SET", "No access PIN has been set", nil)
	}
	if strings.TrimSpace(pin) == "" {
		return domainError(http.StatusForbidden, "PIN_REQUIRED", "Access PIN required", nil)
	}
	if pin != user.AccessPIN {
		return domainError(http.StatusForbidden, "PIN_MISMATCH", "Access PIN does not match", nil)
	}
	return nil
}

// SetUserRole is the admin override for role and portal flags. Sessions pick
// up the new role on their next request: token claims are not trusted for
// authorization, the user row is.
func (s *Service) SetUserRole(ctx context.Context, session Session, userID, role string, isExternal *bool) (map[string]any, error) {
	switch role {
	case "admin", "manager", "member", "guest":
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of admin, manager, member, guest", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	external := user.IsExternal
	if isExternal != nil {
		external = *isExternal
	}
	if err := s.store.UpdateUserRole(ctx, userID, role, external); err != nil {
		return nil, err
	}
	user, err = s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.publish("users", realtime.ActionUpdate, user.ID, directoryPayload(user), true)
	return profilePayload(user), nil
}

func profilePayload(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"displayName":   user.DisplayName,
		"email":         user.Email,
		"role":          user.Role,
		"isExternal":    user.IsExternal,
		"avatarColor":   user.AvatarColor,
		"notifyEmail":   user.NotifyEmail,
		"hasPin":        user.AccessPIN != "",
		"emailVerified": user.IsEmailVerified,
		"createdAt":     fmtTime(user.CreatedAt),
	}
}

func directoryPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"avatarColor": user.AvatarColor,
		"role":        user.Role,
	}
}
