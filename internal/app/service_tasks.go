package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

// TaskInput covers create and update. AssigneeID and DueDate distinguish
// "keep" (nil) from "clear" (empty string).
type TaskInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssigneeID  *string `json:"assigneeId"`
	DueDate     *string `json:"dueDate"`
}

func validTaskStatus(status string) bool {
	switch status {
	case "todo", "in_progress", "review", "done":
		return true
	}
	return false
}

func validPriority(priority string) bool {
	switch priority {
	case "low", "medium", "high", "urgent":
		return true
	}
	return false
}

func (s *Service) ListProjectTasks(ctx context.Context, projectID, status, assigneeID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if status != "" && !validTaskStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of todo, in_progress, review, done", nil)
	}
	tasks, err := s.store.ListTasks(ctx, projectID, status, assigneeID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskPayload(task))
	}
	return out, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

// CreateTask appends the card at the bottom of its status column.
func (s *Service) CreateTask(ctx context.Context, session Session, projectID string, input TaskInput) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(strDeref(input.Title))
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	item := store.Task{
		ID:          util.NewID("tsk"),
		ProjectID:   projectID,
		Title:       title,
		Description: strDeref(input.Description),
		Status:      firstNonBlank(strDeref(input.Status), "todo"),
		Priority:    firstNonBlank(strDeref(input.Priority), "medium"),
	}
	if !validTaskStatus(item.Status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of todo, in_progress, review, done", nil)
	}
	if !validPriority(item.Priority) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}
	if input.AssigneeID != nil && strings.TrimSpace(*input.AssigneeID) != "" {
		assigneeID := strings.TrimSpace(*input.AssigneeID)
		if _, err := s.store.GetUserByID(ctx, assigneeID); err != nil {
			return nil, err
		}
		item.AssigneeID = &assigneeID
	}
	if input.DueDate != nil {
		if item.DueDate, err = parseDate(*input.DueDate); err != nil {
			return nil, err
		}
	}

	created, err := s.store.InsertTask(ctx, item)
	if err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	s.indexTask(task)
	s.publish("tasks", realtime.ActionInsert, task.ID, taskPayload(task), false)
	if task.AssigneeID != nil && *task.AssigneeID != session.UserID {
		s.notify(ctx, *task.AssigneeID, "task_assigned",
			"Task assigned: "+task.Title,
			fmt.Sprintf("%s assigned you a task in %s", session.UserName, project.Name),
			"task", task.ID)
	}
	return taskPayload(task), nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input TaskInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	previousAssignee := ""
	if task.AssigneeID != nil {
		previousAssignee = *task.AssigneeID
	}

	applyStr(&task.Title, input.Title)
	applyStr(&task.Description, input.Description)
	applyStr(&task.Priority, input.Priority)
	if strings.TrimSpace(task.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if !validPriority(task.Priority) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}
	if input.AssigneeID != nil {
		assigneeID := strings.TrimSpace(*input.AssigneeID)
		if assigneeID == "" {
			task.AssigneeID = nil
		} else {
			if _, err := s.store.GetUserByID(ctx, assigneeID); err != nil {
				return nil, err
			}
			task.AssigneeID = &assigneeID
		}
	}
	if input.DueDate != nil {
		if task.DueDate, err = parseDate(*input.DueDate); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.indexTask(task)
	s.publish("tasks", realtime.ActionUpdate, task.ID, taskPayload(task), false)

	if task.AssigneeID != nil && *task.AssigneeID != previousAssignee && *task.AssigneeID != session.UserID {
		body := fmt.Sprintf("%s assigned you a task", session.UserName)
		if project, err := s.store.GetProject(ctx, task.ProjectID); err == nil {
			body = fmt.Sprintf("%s assigned you a task in %s", session.UserName, project.Name)
		}
		s.notify(ctx, *task.AssigneeID, "task_assigned", "Task assigned: "+task.Title, body, "task", task.ID)
	}
	return taskPayload(task), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.search.DeleteTask(taskID)
	s.publish("tasks", realtime.ActionDelete, taskID, nil, false)
	return nil
}

// MoveTask drags the card to a column index. Positions past the end of the
// destination column clamp to its bottom.
func (s *Service) MoveTask(ctx context.Context, session Session, taskID, status string, position int) (map[string]any, error) {
	if !validTaskStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of todo, in_progress, review, done", nil)
	}
	if _, err := s.store.MoveTask(ctx, taskID, status, position); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.indexTask(task)
	s.publish("tasks", realtime.ActionUpdate, task.ID, taskPayload(task), false)
	return taskPayload(task), nil
}

func (s *Service) indexTask(task store.Task) {
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		ProjectID:   task.ProjectID,
		Status:      task.Status,
	})
}

func taskPayload(task store.Task) map[string]any {
	var assigneeID any
	if task.AssigneeID != nil {
		assigneeID = *task.AssigneeID
	}
	return map[string]any{
		"id":           task.ID,
		"projectId":    task.ProjectID,
		"title":        task.Title,
		"description":  nilIfEmpty(task.Description),
		"status":       task.Status,
		"position":     task.Position,
		"priority":     task.Priority,
		"assigneeId":   assigneeID,
		"assigneeName": nilIfEmpty(task.AssigneeName),
		"dueDate":      fmtDatePtr(task.DueDate),
		"createdAt":    fmtTime(task.CreatedAt),
		"updatedAt":    fmtTime(task.UpdatedAt),
	}
}
