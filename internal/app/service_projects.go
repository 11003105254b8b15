package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opsboard/api/internal/export"
	"opsboard/api/internal/realtime"
	"opsboard/api/internal/revisions"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

type ProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ClientID    *string `json:"clientId"`
	Status      *string `json:"status"`
	StartDate   *string `json:"startDate"`
	DueDate     *string `json:"dueDate"`
	BudgetCents *int64  `json:"budgetCents"`
}

func validProjectStatus(status string) bool {
	switch status {
	case "planning", "in_progress", "on_hold", "completed", "archived":
		return true
	}
	return false
}

func (s *Service) ListProjects(ctx context.Context, clientID, status string) ([]map[string]any, error) {
	if status != "" && !validProjectStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of planning, in_progress, on_hold, completed, archived", nil)
	}
	projects, err := s.store.ListProjects(ctx, clientID, status)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		out = append(out, projectPayload(project))
	}
	return out, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project), nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(strDeref(input.Name))
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	clientID := strings.TrimSpace(strDeref(input.ClientID))
	if clientID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientId is required", nil)
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}

	item := store.Project{
		ID:          util.NewID("prj"),
		ClientID:    clientID,
		Name:        name,
		Description: strDeref(input.Description),
		Status:      firstNonBlank(strDeref(input.Status), "planning"),
	}
	if !validProjectStatus(item.Status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of planning, in_progress, on_hold, completed, archived", nil)
	}
	if input.BudgetCents != nil {
		if *input.BudgetCents < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "budgetCents must not be negative", nil)
		}
		item.BudgetCents = *input.BudgetCents
	}
	var err error
	if item.StartDate, err = parseDate(strDeref(input.StartDate)); err != nil {
		return nil, err
	}
	if item.DueDate, err = parseDate(strDeref(input.DueDate)); err != nil {
		return nil, err
	}

	if err := s.store.InsertProject(ctx, item); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexProject(project)
	s.publish("projects", realtime.ActionInsert, project.ID, projectPayload(project), false)
	return projectPayload(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	applyStr(&project.Name, input.Name)
	applyStr(&project.Description, input.Description)
	applyStr(&project.Status, input.Status)
	if input.ClientID != nil && strings.TrimSpace(*input.ClientID) != project.ClientID {
		clientID := strings.TrimSpace(*input.ClientID)
		if _, err := s.store.GetClient(ctx, clientID); err != nil {
			return nil, err
		}
		project.ClientID = clientID
	}
	if strings.TrimSpace(project.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if !validProjectStatus(project.Status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of planning, in_progress, on_hold, completed, archived", nil)
	}
	if input.BudgetCents != nil {
		if *input.BudgetCents < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "budgetCents must not be negative", nil)
		}
		project.BudgetCents = *input.BudgetCents
	}
	if input.StartDate != nil {
		if project.StartDate, err = parseDate(*input.StartDate); err != nil {
			return nil, err
		}
	}
	if input.DueDate != nil {
		if project.DueDate, err = parseDate(*input.DueDate); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	project, err = s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.indexProject(project)
	s.publish("projects", realtime.ActionUpdate, project.ID, projectPayload(project), false)
	return projectPayload(project), nil
}

// DeleteProject cascades phases and tasks through the schema. The search
// index is cleaned here for the rows that were indexed; phase revision repos
// stay on disk until a reindex sweep.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, projectID, "", "")
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.search.DeleteProject(projectID)
	for _, task := range tasks {
		s.search.DeleteTask(task.ID)
	}
	s.publish("projects", realtime.ActionDelete, projectID, nil, false)
	return nil
}

type PhaseInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	AmountCents *int64  `json:"amountCents"`
}

func (s *Service) ListPhases(ctx context.Context, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(phases))
	for _, phase := range phases {
		out = append(out, phasePayload(phase))
	}
	return out, nil
}

func (s *Service) GetPhase(ctx context.Context, phaseID string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	return phasePayload(phase), nil
}

// CreatePhase appends at the end of the project's list and seeds the phase's
// revision repo with empty proposal content.
func (s *Service) CreatePhase(ctx context.Context, session Session, projectID string, input PhaseInput) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(strDeref(input.Name))
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	item := store.Phase{
		ID:          util.NewID("pha"),
		ProjectID:   projectID,
		Name:        name,
		Description: strDeref(input.Description),
		Status:      "pending",
	}
	if input.AmountCents != nil {
		if *input.AmountCents < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must not be negative", nil)
		}
		item.AmountCents = *input.AmountCents
	}

	phase, err := s.store.InsertPhase(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := s.revs.EnsurePhaseRepo(phase.ID, revisions.Content{}, session.UserName); err != nil {
		return nil, fmt.Errorf("init phase revisions: %w", err)
	}
	s.publish("phases", realtime.ActionInsert, phase.ID, phasePayload(phase), false)
	return phasePayload(phase), nil
}

func (s *Service) UpdatePhase(ctx context.Context, session Session, phaseID string, input PhaseInput) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	applyStr(&phase.Name, input.Name)
	applyStr(&phase.Description, input.Description)
	if strings.TrimSpace(phase.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if input.AmountCents != nil {
		if *input.AmountCents < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must not be negative", nil)
		}
		phase.AmountCents = *input.AmountCents
	}
	if err := s.store.UpdatePhase(ctx, phase.ID, phase.Name, phase.Description, phase.AmountCents); err != nil {
		return nil, err
	}
	phase, err = s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	s.publish("phases", realtime.ActionUpdate, phase.ID, phasePayload(phase), false)
	return phasePayload(phase), nil
}

func (s *Service) DeletePhase(ctx context.Context, session Session, phaseID string) error {
	if _, err := s.store.GetPhase(ctx, phaseID); err != nil {
		return err
	}
	if err := s.store.DeletePhase(ctx, phaseID); err != nil {
		return err
	}
	s.publish("phases", realtime.ActionDelete, phaseID, nil, false)
	return nil
}

// ReorderPhases splices one phase to the requested index and returns the
// renumbered list.
func (s *Service) ReorderPhases(ctx context.Context, session Session, projectID, phaseID string, position int) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.store.ReorderPhase(ctx, projectID, phaseID, position); err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(phases))
	for _, phase := range phases {
		out = append(out, phasePayload(phase))
	}
	moved, err := s.store.GetPhase(ctx, phaseID)
	if err == nil {
		s.publish("phases", realtime.ActionUpdate, moved.ID, phasePayload(moved), false)
	}
	return out, nil
}

type ContentInput struct {
	Summary      *string         `json:"summary"`
	Scope        *string         `json:"scope"`
	Deliverables *string         `json:"deliverables"`
	Terms        *string         `json:"terms"`
	Doc          json.RawMessage `json:"doc"`
}

func (s *Service) PhaseContent(ctx context.Context, phaseID string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	content, head, err := s.revs.GetHeadContent(phase.ID)
	if err != nil {
		return nil, fmt.Errorf("load phase content: %w", err)
	}
	return contentPayload(content, head), nil
}

// SavePhaseContent commits the merged sections when anything changed. An
// identical save is a no-op that returns the current head.
func (s *Service) SavePhaseContent(ctx context.Context, session Session, phaseID string, input ContentInput) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	current, head, err := s.revs.GetHeadContent(phase.ID)
	if err != nil {
		return nil, fmt.Errorf("load phase content: %w", err)
	}

	next := current
	if input.Summary != nil {
		next.Summary = *input.Summary
	}
	if input.Scope != nil {
		next.Scope = *input.Scope
	}
	if input.Deliverables != nil {
		next.Deliverables = *input.Deliverables
	}
	if input.Terms != nil {
		next.Terms = *input.Terms
	}
	if len(input.Doc) > 0 {
		if !json.Valid(input.Doc) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "doc must be valid JSON", nil)
		}
		next.Doc = input.Doc
	}

	if !revisions.HasChanges(current, next) {
		return contentPayload(current, head), nil
	}
	commit, err := s.revs.CommitContent(phase.ID, next, session.UserName, "Update proposal content")
	if err != nil {
		return nil, fmt.Errorf("commit phase content: %w", err)
	}
	s.publish("phases", realtime.ActionUpdate, phase.ID, phasePayload(phase), false)
	return contentPayload(next, commit), nil
}

func (s *Service) PhaseHistory(ctx context.Context, phaseID string, limit int) ([]map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	commits, err := s.revs.History(phase.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("load phase history: %w", err)
	}
	out := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		out = append(out, commitPayload(commit))
	}
	return out, nil
}

func (s *Service) PhaseRevision(ctx context.Context, phaseID, hash string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	content, err := s.revs.GetContentByHash(phase.ID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	commit, err := s.revs.GetCommitByHash(phase.ID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return contentPayload(content, commit), nil
}

// SendPhase marks a pending proposal sent and tags the head revision sent-N
// so the exact content that went out stays addressable.
func (s *Service) SendPhase(ctx context.Context, session Session, phaseID string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if phase.Status != "pending" {
		return nil, domainError(http.StatusConflict, "PHASE_STATUS_BLOCKED", "Only pending proposals can be sent", map[string]any{"status": phase.Status})
	}

	_, head, err := s.revs.GetHeadContent(phase.ID)
	if err != nil {
		return nil, fmt.Errorf("load phase content: %w", err)
	}
	tags, err := s.revs.ListTags(phase.ID)
	if err != nil {
		return nil, fmt.Errorf("list phase tags: %w", err)
	}
	n := 1
	for _, tag := range tags {
		if strings.HasPrefix(tag, "sent-") {
			n++
		}
	}
	if err := s.revs.CreateTag(phase.ID, head.Hash, fmt.Sprintf("sent-%d", n)); err != nil {
		return nil, fmt.Errorf("tag sent revision: %w", err)
	}

	if err := s.store.UpdatePhaseStatus(ctx, phase.ID, "sent", ""); err != nil {
		return nil, err
	}
	phase, err = s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	s.publish("phases", realtime.ActionUpdate, phase.ID, phasePayload(phase), false)

	if project, err := s.store.GetProject(ctx, phase.ProjectID); err == nil {
		s.notifyManagers(ctx, session.UserID, "phase_decided",
			"Proposal sent: "+phase.Name,
			fmt.Sprintf("%s sent the proposal for %s", session.UserName, project.Name),
			"phase", phase.ID)
	}
	return phasePayload(phase), nil
}

func (s *Service) ApprovePhase(ctx context.Context, session Session, phaseID, note string) (map[string]any, error) {
	return s.decidePhase(ctx, session, phaseID, "approved", note)
}

func (s *Service) DeclinePhase(ctx context.Context, session Session, phaseID, note string) (map[string]any, error) {
	return s.decidePhase(ctx, session, phaseID, "declined", note)
}

func (s *Service) decidePhase(ctx context.Context, session Session, phaseID, status, note string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if phase.Status != "sent" {
		return nil, domainError(http.StatusConflict, "PHASE_STATUS_BLOCKED", "Only sent proposals can be decided", map[string]any{"status": phase.Status})
	}
	if err := s.store.UpdatePhaseStatus(ctx, phase.ID, status, strings.TrimSpace(note)); err != nil {
		return nil, err
	}
	phase, err = s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	s.publish("phases", realtime.ActionUpdate, phase.ID, phasePayload(phase), false)

	verb := "approved"
	if status == "declined" {
		verb = "declined"
	}
	if project, err := s.store.GetProject(ctx, phase.ProjectID); err == nil {
		body := fmt.Sprintf("%s %s the proposal for %s", session.UserName, verb, project.Name)
		if strings.TrimSpace(note) != "" {
			body += ": " + strings.TrimSpace(note)
		}
		s.notifyManagers(ctx, session.UserID, "phase_decided",
			fmt.Sprintf("Proposal %s: %s", verb, phase.Name), body, "phase", phase.ID)
	}
	return phasePayload(phase), nil
}

// CompletePhase closes out an approved phase once its work is delivered.
func (s *Service) CompletePhase(ctx context.Context, session Session, phaseID string) (map[string]any, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if phase.Status != "approved" {
		return nil, domainError(http.StatusConflict, "PHASE_STATUS_BLOCKED", "Only approved phases can be completed", map[string]any{"status": phase.Status})
	}
	if err := s.store.UpdatePhaseStatus(ctx, phase.ID, "complete", ""); err != nil {
		return nil, err
	}
	phase, err = s.store.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	s.publish("phases", realtime.ActionUpdate, phase.ID, phasePayload(phase), false)
	return phasePayload(phase), nil
}

func (s *Service) ExportPhase(ctx context.Context, phaseID, format, version string) (*export.Result, error) {
	var f export.Format
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pdf":
		f = export.FormatPDF
	case "docx":
		f = export.FormatDOCX
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		PhaseID: phaseID,
		Version: strings.TrimSpace(version),
		Format:  f,
	})
}

func (s *Service) indexProject(project store.Project) {
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		ClientID:    project.ClientID,
		Status:      project.Status,
	})
}

func parseDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dates must use YYYY-MM-DD", nil)
	}
	return &t, nil
}

func fmtDatePtr(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Format("2006-01-02")
}

func projectPayload(project store.Project) map[string]any {
	return map[string]any{
		"id":            project.ID,
		"clientId":      project.ClientID,
		"clientCompany": nilIfEmpty(project.ClientCompany),
		"clientContact": nilIfEmpty(project.ClientContact),
		"name":          project.Name,
		"description":   nilIfEmpty(project.Description),
		"status":        project.Status,
		"startDate":     fmtDatePtr(project.StartDate),
		"dueDate":       fmtDatePtr(project.DueDate),
		"budgetCents":   project.BudgetCents,
		"createdAt":     fmtTime(project.CreatedAt),
		"updatedAt":     fmtTime(project.UpdatedAt),
	}
}

func phasePayload(phase store.Phase) map[string]any {
	return map[string]any{
		"id":           phase.ID,
		"projectId":    phase.ProjectID,
		"name":         phase.Name,
		"description":  nilIfEmpty(phase.Description),
		"position":     phase.Position,
		"status":       phase.Status,
		"amountCents":  phase.AmountCents,
		"sentAt":       fmtTimePtr(phase.SentAt),
		"decidedAt":    fmtTimePtr(phase.DecidedAt),
		"decisionNote": nilIfEmpty(phase.DecisionNote),
		"createdAt":    fmtTime(phase.CreatedAt),
		"updatedAt":    fmtTime(phase.UpdatedAt),
	}
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": fmtTime(commit.CreatedAt),
		"when":      relative(commit.CreatedAt),
		"added":     commit.Added,
		"removed":   commit.Removed,
	}
}

func contentPayload(content revisions.Content, commit store.CommitInfo) map[string]any {
	var doc any
	if len(content.Doc) > 0 {
		doc = json.RawMessage(content.Doc)
	}
	return map[string]any{
		"summary":      content.Summary,
		"scope":        content.Scope,
		"deliverables": content.Deliverables,
		"terms":        content.Terms,
		"doc":          doc,
		"revision":     commitPayload(commit),
	}
}
