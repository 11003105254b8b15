package app

import (
	"context"
	"testing"
	"time"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/store"
)

func boolPtr(v bool) *bool { return &v }

func TestUpdateProfileKeepsUnsetFields(t *testing.T) {
	var gotName, gotColor string
	var gotNotify bool
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery", AvatarColor: "#2d6cdf", NotifyEmail: true}, nil
		},
		updateUserProfileFn: func(_ context.Context, _, displayName, avatarColor string, notifyEmail bool) error {
			gotName, gotColor, gotNotify = displayName, avatarColor, notifyEmail
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.UpdateProfile(context.Background(), staffSession("usr_1", "member"), ProfileUpdate{
		NotifyEmail: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if gotName != "Avery" || gotColor != "#2d6cdf" {
		t.Fatalf("blank inputs must keep current values, got %q %q", gotName, gotColor)
	}
	if gotNotify {
		t.Fatalf("expected the email toggle turned off")
	}
}

func TestUpdateProfileRejectsEmptyDisplayName(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.UpdateProfile(context.Background(), staffSession("usr_1", "member"), ProfileUpdate{
		DisplayName: "   ",
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestUpdateProfilePublishesDirectoryEntry(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery", Role: "member"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"users"}, false)
	defer svc.hub.Unsubscribe(sub)

	if _, err := svc.UpdateProfile(context.Background(), staffSession("usr_1", "member"), ProfileUpdate{DisplayName: "Avery K"}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	event := drainEvent(t, sub)
	if event.Table != "users" || event.Action != realtime.ActionUpdate || event.ID != "usr_1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, ok := event.Record["email"]; ok {
		t.Fatalf("directory events must not leak email addresses: %+v", event.Record)
	}
}

func TestSetAccessPINValidatesShape(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	session := staffSession("usr_1", "member")

	for _, pin := range []string{"12", "1234567", "12a4", "12 34"} {
		err := svc.SetAccessPIN(context.Background(), session, pin)
		if err == nil {
			t.Fatalf("pin %q should be rejected", pin)
		}
		assertDomainCode(t, err, "VALIDATION_ERROR")
	}
}

func TestSetAccessPINRejectsWeakPins(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	session := staffSession("usr_1", "member")

	for _, pin := range []string{"0000", "1234", "123456", "1122"} {
		err := svc.SetAccessPIN(context.Background(), session, pin)
		if err == nil {
			t.Fatalf("weak pin %q should be rejected", pin)
		}
		assertDomainCode(t, err, "VALIDATION_ERROR")
	}
}

func TestSetAccessPINStoresTrimmedValue(t *testing.T) {
	stored := ""
	fs := &fakeStore{
		updateUserPINFn: func(_ context.Context, userID, pin string) error {
			stored = userID + "|" + pin
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	if err := svc.SetAccessPIN(context.Background(), staffSession("usr_1", "member"), " 1739 "); err != nil {
		t.Fatalf("SetAccessPIN() error = %v", err)
	}
	if stored != "usr_1|1739" {
		t.Fatalf("unexpected stored pin: %q", stored)
	}
}

func TestVerifyAccessPINRequiresOneSet(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.VerifyAccessPIN(context.Background(), staffSession("usr_1", "member"), "1739")
	assertDomainCode(t, err, "PIN_NOT_SET")
}

func TestVerifyAccessPINCompares(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, AccessPIN: "1739"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	session := staffSession("usr_1", "member")

	valid, err := svc.VerifyAccessPIN(context.Background(), session, "1739")
	if err != nil || !valid {
		t.Fatalf("expected a match, got %v %v", valid, err)
	}
	valid, err = svc.VerifyAccessPIN(context.Background(), session, "0001")
	if err != nil || valid {
		t.Fatalf("expected a mismatch without error, got %v %v", valid, err)
	}
}

func TestListProfilesSkipsDeactivatedAndExternal(t *testing.T) {
	now := time.Now()
	deactivated := staffUser("usr_2", "member")
	deactivated.DeactivatedAt = &now
	external := staffUser("usr_3", "guest")
	external.IsExternal = true

	fs := &fakeStore{
		listUsersFn: func(context.Context) ([]store.User, error) {
			return []store.User{staffUser("usr_1", "member"), deactivated, external}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	profiles, err := svc.ListProfiles(context.Background())
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if len(profiles) != 1 || profiles[0]["id"] != "usr_1" {
		t.Fatalf("expected only the active internal user, got %v", profiles)
	}
	if _, ok := profiles[0]["email"]; ok {
		t.Fatalf("the directory must not expose emails: %v", profiles[0])
	}
}

func TestSetUserRoleValidatesRole(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.SetUserRole(context.Background(), staffSession("usr_1", "admin"), "usr_2", "root", nil)
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestSetUserRoleUpdatesAndStaysInternal(t *testing.T) {
	var gotRole string
	var gotExternal bool
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Pat", Role: gotRole, IsExternal: gotExternal}, nil
		},
		updateUserRoleFn: func(_ context.Context, _, role string, isExternal bool) error {
			gotRole, gotExternal = role, isExternal
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	staff := svc.hub.Subscribe([]string{"users"}, true)
	guest := svc.hub.Subscribe([]string{"users"}, false)
	defer svc.hub.Unsubscribe(staff)
	defer svc.hub.Unsubscribe(guest)

	payload, err := svc.SetUserRole(context.Background(), staffSession("usr_1", "admin"), "usr_2", "guest", boolPtr(true))
	if err != nil {
		t.Fatalf("SetUserRole() error = %v", err)
	}
	if gotRole != "guest" || !gotExternal {
		t.Fatalf("expected guest/external stored, got %q %v", gotRole, gotExternal)
	}
	if payload["role"] != "guest" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// Role changes are staff-only events.
	drainEvent(t, staff)
	assertNoEvent(t, guest)
}

func staffUser(id, role string) store.User {
	return store.User{ID: id, DisplayName: "User " + id, Role: role}
}
