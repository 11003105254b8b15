package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/store"
)

func TestCreateTaskDefaultsAndIndexes(t *testing.T) {
	var inserted store.Task
	fs := &fakeStore{
		insertTaskFn: func(_ context.Context, item store.Task) (store.Task, error) {
			inserted = item
			inserted.Position = 4
			return inserted, nil
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"tasks"}, false)
	defer svc.hub.Unsubscribe(sub)

	payload, err := svc.CreateTask(context.Background(), staffSession("usr_1", "member"), "prj_1", TaskInput{
		Title: strPtr("Draft wireframes"),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if !strings.HasPrefix(inserted.ID, "tsk_") {
		t.Fatalf("expected tsk_ id prefix, got %q", inserted.ID)
	}
	if inserted.Status != "todo" || inserted.Priority != "medium" {
		t.Fatalf("expected todo/medium defaults, got %s/%s", inserted.Status, inserted.Priority)
	}
	if payload["title"] != "Draft wireframes" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	event := drainEvent(t, sub)
	if event.Action != realtime.ActionInsert || event.ID != inserted.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
	idx := svc.search.(*fakeSearch)
	if len(idx.indexed) != 1 || idx.indexed[0] != "task:"+inserted.ID {
		t.Fatalf("expected the new task indexed, got %v", idx.indexed)
	}
}

func TestCreateTaskRejectsBadPriority(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.CreateTask(context.Background(), staffSession("usr_1", "member"), "prj_1", TaskInput{
		Title:    strPtr("Draft wireframes"),
		Priority: strPtr("blocker"),
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateTaskNotifiesAssignee(t *testing.T) {
	var inserted store.Task
	var notified []store.Notification
	fs := &fakeStore{
		insertTaskFn: func(_ context.Context, item store.Task) (store.Task, error) {
			inserted = item
			return inserted, nil
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return inserted, nil
		},
		insertNotificationFn: func(_ context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.CreateTask(context.Background(), staffSession("usr_1", "member"), "prj_1", TaskInput{
		Title:      strPtr("Draft wireframes"),
		AssigneeID: strPtr("usr_2"),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if len(notified) != 1 || notified[0].UserID != "usr_2" {
		t.Fatalf("expected one notification for usr_2, got %+v", notified)
	}
	if notified[0].Kind != "task_assigned" {
		t.Fatalf("unexpected kind %q", notified[0].Kind)
	}
	if !strings.Contains(notified[0].Title, "Draft wireframes") {
		t.Fatalf("expected the task title in the notification, got %q", notified[0].Title)
	}
}

func TestCreateTaskSkipsSelfAssignmentNotification(t *testing.T) {
	var inserted store.Task
	notifications := 0
	fs := &fakeStore{
		insertTaskFn: func(_ context.Context, item store.Task) (store.Task, error) {
			inserted = item
			return inserted, nil
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return inserted, nil
		},
		insertNotificationFn: func(context.Context, store.Notification) error {
			notifications++
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.CreateTask(context.Background(), staffSession("usr_1", "member"), "prj_1", TaskInput{
		Title:      strPtr("Draft wireframes"),
		AssigneeID: strPtr("usr_1"),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if notifications != 0 {
		t.Fatalf("self-assignment must not notify, got %d notifications", notifications)
	}
}

func TestUpdateTaskNotifiesOnlyOnReassignment(t *testing.T) {
	assignee := "usr_2"
	current := store.Task{ID: "tsk_1", ProjectID: "prj_1", Title: "Draft wireframes", Status: "todo", Priority: "medium", AssigneeID: &assignee}
	var notified []store.Notification
	fs := &fakeStore{
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return current, nil
		},
		updateTaskFn: func(_ context.Context, item store.Task) error {
			current = item
			return nil
		},
		insertNotificationFn: func(_ context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	session := staffSession("usr_1", "member")

	// Same assignee: no notification.
	if _, err := svc.UpdateTask(context.Background(), session, "tsk_1", TaskInput{AssigneeID: strPtr("usr_2")}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if len(notified) != 0 {
		t.Fatalf("unchanged assignee must not notify, got %+v", notified)
	}

	// Reassignment: notify the new assignee.
	if _, err := svc.UpdateTask(context.Background(), session, "tsk_1", TaskInput{AssigneeID: strPtr("usr_3")}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if len(notified) != 1 || notified[0].UserID != "usr_3" {
		t.Fatalf("expected usr_3 notified, got %+v", notified)
	}
}

func TestUpdateTaskClearsAssignee(t *testing.T) {
	assignee := "usr_2"
	var updated store.Task
	fs := &fakeStore{
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{ID: "tsk_1", ProjectID: "prj_1", Title: "Draft wireframes", Status: "todo", Priority: "medium", AssigneeID: &assignee}, nil
		},
		updateTaskFn: func(_ context.Context, item store.Task) error {
			updated = item
			return nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.UpdateTask(context.Background(), staffSession("usr_1", "member"), "tsk_1", TaskInput{
		AssigneeID: strPtr(""),
	})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if updated.AssigneeID != nil {
		t.Fatalf("expected assignee cleared, got %v", *updated.AssigneeID)
	}
}

func TestMoveTaskValidatesStatus(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeRevisions{})

	_, err := svc.MoveTask(context.Background(), staffSession("usr_1", "member"), "tsk_1", "archived", 0)
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestMoveTaskPropagatesOutOfRange(t *testing.T) {
	fs := &fakeStore{
		moveTaskFn: func(context.Context, string, string, int) (store.Task, error) {
			return store.Task{}, store.ErrPositionOutOfRange
		},
	}
	svc := newTestService(fs, &fakeRevisions{})

	_, err := svc.MoveTask(context.Background(), staffSession("usr_1", "member"), "tsk_1", "review", 40)
	if !errors.Is(err, store.ErrPositionOutOfRange) {
		t.Fatalf("expected ErrPositionOutOfRange, got %v", err)
	}
}

func TestMoveTaskPublishesUpdatedCard(t *testing.T) {
	var movedStatus string
	var movedPosition int
	fs := &fakeStore{
		moveTaskFn: func(_ context.Context, taskID, status string, position int) (store.Task, error) {
			movedStatus, movedPosition = status, position
			return store.Task{ID: taskID, Status: status, Position: position}, nil
		},
		getTaskFn: func(_ context.Context, taskID string) (store.Task, error) {
			return store.Task{ID: taskID, ProjectID: "prj_1", Title: "Draft wireframes", Status: movedStatus, Position: movedPosition, Priority: "medium"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"tasks"}, false)
	defer svc.hub.Unsubscribe(sub)

	payload, err := svc.MoveTask(context.Background(), staffSession("usr_1", "member"), "tsk_1", "review", 1)
	if err != nil {
		t.Fatalf("MoveTask() error = %v", err)
	}
	if payload["status"] != "review" || payload["position"] != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	event := drainEvent(t, sub)
	if event.Action != realtime.ActionUpdate || event.ID != "tsk_1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	idx := svc.search.(*fakeSearch)
	if len(idx.indexed) != 1 || idx.indexed[0] != "task:tsk_1" {
		t.Fatalf("expected the moved task reindexed, got %v", idx.indexed)
	}
}

func TestDeleteTaskClearsIndexAndPublishes(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, taskID string) (store.Task, error) {
			return store.Task{ID: taskID, ProjectID: "prj_1", Title: "Draft wireframes"}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	sub := svc.hub.Subscribe([]string{"tasks"}, false)
	defer svc.hub.Unsubscribe(sub)

	if err := svc.DeleteTask(context.Background(), staffSession("usr_1", "manager"), "tsk_1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	event := drainEvent(t, sub)
	if event.Action != realtime.ActionDelete || event.ID != "tsk_1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	idx := svc.search.(*fakeSearch)
	if len(idx.deleted) != 1 || idx.deleted[0] != "task:tsk_1" {
		t.Fatalf("expected the task removed from the index, got %v", idx.deleted)
	}
}
