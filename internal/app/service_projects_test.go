package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"opsboard/api/internal/export"
	"opsboard/api/internal/realtime"
	"opsboard/api/internal/revisions"
	"opsboard/api/internal/store"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCreateProjectRequiresNameAndClient(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	session := staffSession("usr_1", "member")

	_, err := svc.CreateProject(context.Background(), session, ProjectInput{ClientID: strPtr("cli_1")})
	assertDomainCode(t, err, "VALIDATION_ERROR")

	_, err = svc.CreateProject(context.Background(), session, ProjectInput{Name: strPtr("Website refresh")})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateProjectRejectsUnknownClient(t *testing.T) {
	fs := &fakeStore{
		getClientFn: func(context.Context, string) (store.Client, error) {
			return store.Client{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.CreateProject(context.Background(), staffSession("usr_1", "member"), ProjectInput{
		Name:     strPtr("Website refresh"),
		ClientID: strPtr("cli_missing"),
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCreateProjectRejectsBadDate(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.CreateProject(context.Background(), staffSession("usr_1", "member"), ProjectInput{
		Name:      strPtr("Website refresh"),
		ClientID:  strPtr("cli_1"),
		StartDate: strPtr("03/15/2026"),
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateProjectDefaultsToPlanningAndIndexes(t *testing.T) {
	var inserted store.Project
	fs := &fakeStore{
		insertProjectFn: func(_ context.Context, item store.Project) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"projects"}, false)
	defer svc.hub.Unsubscribe(sub)

	_, err := svc.CreateProject(context.Background(), staffSession("usr_1", "member"), ProjectInput{
		Name:        strPtr("Website refresh"),
		ClientID:    strPtr("cli_1"),
		BudgetCents: int64Ptr(250000),
		DueDate:     strPtr("2026-10-01"),
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if !strings.HasPrefix(inserted.ID, "prj_") {
		t.Fatalf("expected prj_ id prefix, got %q", inserted.ID)
	}
	if inserted.Status != "planning" {
		t.Fatalf("expected new projects to default to planning, got %q", inserted.Status)
	}
	if inserted.DueDate == nil || inserted.DueDate.Format("2006-01-02") != "2026-10-01" {
		t.Fatalf("expected parsed due date, got %v", inserted.DueDate)
	}

	event := drainEvent(t, sub)
	if event.Action != realtime.ActionInsert || event.ID != inserted.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
	idx := svc.search.(*fakeSearch)
	if len(idx.indexed) != 1 || idx.indexed[0] != "project:"+inserted.ID {
		t.Fatalf("expected the new project indexed, got %v", idx.indexed)
	}
}

func TestDeleteProjectClearsTaskIndexEntries(t *testing.T) {
	fs := &fakeStore{
		listTasksFn: func(context.Context, string, string, string) ([]store.Task, error) {
			return []store.Task{{ID: "tsk_1"}, {ID: "tsk_2"}}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	if err := svc.DeleteProject(context.Background(), staffSession("usr_1", "manager"), "prj_1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	idx := svc.search.(*fakeSearch)
	want := []string{"project:prj_1", "task:tsk_1", "task:tsk_2"}
	if len(idx.deleted) != len(want) {
		t.Fatalf("expected %v removed from index, got %v", want, idx.deleted)
	}
	for i := range want {
		if idx.deleted[i] != want[i] {
			t.Fatalf("expected %v removed from index, got %v", want, idx.deleted)
		}
	}
}

func TestCreatePhaseSeedsRevisionRepo(t *testing.T) {
	seededPhase := ""
	seededAuthor := ""
	fr := &fakeRevisions{
		ensurePhaseRepoFn: func(phaseID string, initial revisions.Content, author string) error {
			seededPhase = phaseID
			seededAuthor = author
			if initial.Summary != "" || len(initial.Doc) > 0 {
				t.Fatalf("expected empty initial content, got %+v", initial)
			}
			return nil
		},
	}
	var inserted store.Phase
	fs := &fakeStore{
		insertPhaseFn: func(_ context.Context, item store.Phase) (store.Phase, error) {
			inserted = item
			inserted.Position = 2
			return inserted, nil
		},
	}
	svc := newTestService(fs, fr)
	sub := svc.hub.Subscribe([]string{"phases"}, false)
	defer svc.hub.Unsubscribe(sub)

	payload, err := svc.CreatePhase(context.Background(), staffSession("usr_1", "member"), "prj_1", PhaseInput{
		Name:        strPtr("Discovery"),
		AmountCents: int64Ptr(120000),
	})
	if err != nil {
		t.Fatalf("CreatePhase() error = %v", err)
	}
	if !strings.HasPrefix(inserted.ID, "pha_") || inserted.Status != "pending" {
		t.Fatalf("unexpected inserted phase: %+v", inserted)
	}
	if seededPhase != inserted.ID {
		t.Fatalf("expected revision repo seeded for %q, got %q", inserted.ID, seededPhase)
	}
	if seededAuthor != "Avery" {
		t.Fatalf("expected repo seeded as the caller, got %q", seededAuthor)
	}
	if payload["position"] != 2 {
		t.Fatalf("expected appended position from the store, got %v", payload["position"])
	}

	event := drainEvent(t, sub)
	if event.Action != realtime.ActionInsert || event.ID != inserted.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCreatePhaseRejectsNegativeAmount(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.CreatePhase(context.Background(), staffSession("usr_1", "member"), "prj_1", PhaseInput{
		Name:        strPtr("Discovery"),
		AmountCents: int64Ptr(-5),
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestReorderPhasesPropagatesOutOfRange(t *testing.T) {
	fs := &fakeStore{
		reorderPhaseFn: func(context.Context, string, string, int) error {
			return store.ErrPositionOutOfRange
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.ReorderPhases(context.Background(), staffSession("usr_1", "member"), "prj_1", "pha_1", 9)
	if !errors.Is(err, store.ErrPositionOutOfRange) {
		t.Fatalf("expected ErrPositionOutOfRange, got %v", err)
	}
}

func TestReorderPhasesReturnsRenumberedList(t *testing.T) {
	var gotPhase string
	var gotPosition int
	fs := &fakeStore{
		reorderPhaseFn: func(_ context.Context, projectID, phaseID string, position int) error {
			gotPhase, gotPosition = phaseID, position
			return nil
		},
		listPhasesFn: func(context.Context, string) ([]store.Phase, error) {
			return []store.Phase{
				{ID: "pha_2", Position: 0, Status: "pending"},
				{ID: "pha_1", Position: 1, Status: "pending"},
				{ID: "pha_3", Position: 2, Status: "pending"},
			}, nil
		},
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, ProjectID: "prj_1", Position: 0, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"phases"}, false)
	defer svc.hub.Unsubscribe(sub)

	phases, err := svc.ReorderPhases(context.Background(), staffSession("usr_1", "member"), "prj_1", "pha_2", 0)
	if err != nil {
		t.Fatalf("ReorderPhases() error = %v", err)
	}
	if gotPhase != "pha_2" || gotPosition != 0 {
		t.Fatalf("expected reorder of pha_2 to 0, got %q %d", gotPhase, gotPosition)
	}
	if len(phases) != 3 || phases[0]["id"] != "pha_2" {
		t.Fatalf("expected the renumbered list, got %v", phases)
	}

	event := drainEvent(t, sub)
	if event.Action != realtime.ActionUpdate || event.ID != "pha_2" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestSavePhaseContentSkipsCommitWhenUnchanged(t *testing.T) {
	commits := 0
	fr := &fakeRevisions{
		getHeadContentFn: func(string) (revisions.Content, store.CommitInfo, error) {
			return revisions.Content{Summary: "Same summary"}, store.CommitInfo{Hash: "head123"}, nil
		},
		commitContentFn: func(string, revisions.Content, string, string) (store.CommitInfo, error) {
			commits++
			return store.CommitInfo{Hash: "new456"}, nil
		},
	}
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, fr)

	payload, err := svc.SavePhaseContent(context.Background(), staffSession("usr_1", "member"), "pha_1", ContentInput{
		Summary: strPtr("Same summary"),
	})
	if err != nil {
		t.Fatalf("SavePhaseContent() error = %v", err)
	}
	if commits != 0 {
		t.Fatalf("identical saves must not commit, got %d commits", commits)
	}
	revision := payload["revision"].(map[string]any)
	if revision["hash"] != "head123" {
		t.Fatalf("expected current head back, got %v", revision["hash"])
	}
}

func TestSavePhaseContentCommitsMergedSections(t *testing.T) {
	var committed revisions.Content
	var author, message string
	fr := &fakeRevisions{
		getHeadContentFn: func(string) (revisions.Content, store.CommitInfo, error) {
			return revisions.Content{Summary: "Old", Terms: "Net 30"}, store.CommitInfo{Hash: "head123"}, nil
		},
		commitContentFn: func(_ string, content revisions.Content, a, m string) (store.CommitInfo, error) {
			committed, author, message = content, a, m
			return store.CommitInfo{Hash: "new456", Author: a, Message: m}, nil
		},
	}
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, fr)
	sub := svc.hub.Subscribe([]string{"phases"}, false)
	defer svc.hub.Unsubscribe(sub)

	payload, err := svc.SavePhaseContent(context.Background(), staffSession("usr_1", "member"), "pha_1", ContentInput{
		Summary: strPtr("New summary"),
	})
	if err != nil {
		t.Fatalf("SavePhaseContent() error = %v", err)
	}
	if committed.Summary != "New summary" {
		t.Fatalf("expected updated summary committed, got %q", committed.Summary)
	}
	if committed.Terms != "Net 30" {
		t.Fatalf("untouched sections must carry over, got %q", committed.Terms)
	}
	if author != "Avery" || message != "Update proposal content" {
		t.Fatalf("unexpected commit metadata: %q %q", author, message)
	}
	revision := payload["revision"].(map[string]any)
	if revision["hash"] != "new456" {
		t.Fatalf("expected the new commit back, got %v", revision["hash"])
	}
	drainEvent(t, sub)
}

func TestSavePhaseContentRejectsInvalidDoc(t *testing.T) {
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.SavePhaseContent(context.Background(), staffSession("usr_1", "member"), "pha_1", ContentInput{
		Doc: json.RawMessage(`{"blocks":`),
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestSendPhaseRequiresPendingStatus(t *testing.T) {
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "sent"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.SendPhase(context.Background(), staffSession("usr_1", "member"), "pha_1")
	domainErr := assertDomainCode(t, err, "PHASE_STATUS_BLOCKED")
	if domainErr.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", domainErr.Status)
	}
}

func TestSendPhaseTagsHeadAndNotifiesManagers(t *testing.T) {
	var taggedHash, taggedName string
	fr := &fakeRevisions{
		listTagsFn: func(string) ([]string, error) {
			return []string{"sent-1", "v1-draft"}, nil
		},
		createTagFn: func(_ string, hash, name string) error {
			taggedHash, taggedName = hash, name
			return nil
		},
	}
	status := "pending"
	var notified []store.Notification
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, ProjectID: "prj_1", Name: "Discovery", Status: status}, nil
		},
		updatePhaseStatusFn: func(_ context.Context, _, newStatus, note string) error {
			status = newStatus
			if note != "" {
				t.Fatalf("sending must not set a decision note, got %q", note)
			}
			return nil
		},
		listUsersFn: func(context.Context) ([]store.User, error) {
			return []store.User{
				{ID: "usr_1", Role: "manager"},
				{ID: "usr_2", Role: "manager"},
				{ID: "usr_3", Role: "member"},
			}, nil
		},
		insertNotificationFn: func(_ context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	svc := newTestService(fs, fr)

	payload, err := svc.SendPhase(context.Background(), staffSession("usr_1", "manager"), "pha_1")
	if err != nil {
		t.Fatalf("SendPhase() error = %v", err)
	}
	if taggedHash != "head123" {
		t.Fatalf("expected the head revision tagged, got %q", taggedHash)
	}
	if taggedName != "sent-2" {
		t.Fatalf("expected sent-2 after one prior send, got %q", taggedName)
	}
	if payload["status"] != "sent" {
		t.Fatalf("expected sent status back, got %v", payload["status"])
	}
	// usr_1 is the actor and usr_3 is not a manager.
	if len(notified) != 1 || notified[0].UserID != "usr_2" {
		t.Fatalf("expected only usr_2 notified, got %+v", notified)
	}
	if notified[0].Kind != "phase_decided" {
		t.Fatalf("unexpected notification kind %q", notified[0].Kind)
	}
}

func TestApprovePhaseRequiresSentStatus(t *testing.T) {
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.ApprovePhase(context.Background(), staffSession("usr_1", "manager"), "pha_1", "")
	assertDomainCode(t, err, "PHASE_STATUS_BLOCKED")
}

func TestDeclinePhaseRecordsTrimmedNote(t *testing.T) {
	status := "sent"
	var gotStatus, gotNote string
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, ProjectID: "prj_1", Name: "Discovery", Status: status}, nil
		},
		updatePhaseStatusFn: func(_ context.Context, _, newStatus, note string) error {
			status = newStatus
			gotStatus, gotNote = newStatus, note
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	payload, err := svc.DeclinePhase(context.Background(), staffSession("usr_9", "manager"), "pha_1", "  Budget is too high  ")
	if err != nil {
		t.Fatalf("DeclinePhase() error = %v", err)
	}
	if gotStatus != "declined" || gotNote != "Budget is too high" {
		t.Fatalf("expected declined with trimmed note, got %q %q", gotStatus, gotNote)
	}
	if payload["status"] != "declined" {
		t.Fatalf("expected declined back, got %v", payload["status"])
	}
}

func TestCompletePhaseRequiresApprovedStatus(t *testing.T) {
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "sent"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.CompletePhase(context.Background(), staffSession("usr_1", "manager"), "pha_1")
	assertDomainCode(t, err, "PHASE_STATUS_BLOCKED")
}

func TestPhaseRevisionUnknownHashIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.PhaseRevision(context.Background(), "pha_1", "ffffff0")
	domainErr := assertDomainCode(t, err, "NOT_FOUND")
	if domainErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", domainErr.Status)
	}
}

func TestPhaseHistoryClampsLimit(t *testing.T) {
	gotLimit := 0
	fr := &fakeRevisions{
		historyFn: func(_ string, limit int) ([]store.CommitInfo, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	fs := &fakeStore{
		getPhaseFn: func(_ context.Context, phaseID string) (store.Phase, error) {
			return store.Phase{ID: phaseID, Status: "pending"}, nil
		},
	}
	svc := newTestService(fs, fr)

	if _, err := svc.PhaseHistory(context.Background(), "pha_1", 0); err != nil {
		t.Fatalf("PhaseHistory() error = %v", err)
	}
	if gotLimit != 50 {
		t.Fatalf("expected default history limit 50, got %d", gotLimit)
	}
	if _, err := svc.PhaseHistory(context.Background(), "pha_1", 500); err != nil {
		t.Fatalf("PhaseHistory() error = %v", err)
	}
	if gotLimit != 50 {
		t.Fatalf("expected oversized limit reset to 50, got %d", gotLimit)
	}
}

func TestExportPhaseValidatesFormat(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.ExportPhase(context.Background(), "pha_1", "xlsx", "")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestExportPhasePassesRequestThrough(t *testing.T) {
	var got export.Request
	svc := newTestService(&fakeStore{}, &fakeRevisions{})
	svc.exporter = &fakeExporter{
		exportFn: func(_ context.Context, req export.Request) (*export.Result, error) {
			got = req
			return &export.Result{Data: []byte("PK"), Filename: "proposal.docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, nil
		},
	}

	result, err := svc.ExportPhase(context.Background(), "pha_1", "DOCX", " abc1234 ")
	if err != nil {
		t.Fatalf("ExportPhase() error = %v", err)
	}
	if got.PhaseID != "pha_1" || got.Format != export.FormatDOCX || got.Version != "abc1234" {
		t.Fatalf("unexpected export request: %+v", got)
	}
	if result.Filename != "proposal.docx" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
