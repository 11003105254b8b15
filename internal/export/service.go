package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPhase(ctx context.Context, id string) (PhaseInfo, error)
	GetProject(ctx context.Context, id string) (ProjectInfo, error)
	GetClient(ctx context.Context, id string) (ClientInfo, error)
	GetPhaseContent(ctx context.Context, phaseID, version string) (ContentInfo, error)
}

// PhaseInfo holds phase metadata for the proposal header
type PhaseInfo struct {
	ID          string
	Name        string
	Status      string
	ProjectID   string
	AmountCents int64
}

// ProjectInfo holds project metadata
type ProjectInfo struct {
	ID       string
	Name     string
	ClientID string
}

// ClientInfo holds client metadata
type ClientInfo struct {
	ID      string
	Company string
	Contact string
}

// ContentInfo holds the proposal content at the requested revision
type ContentInfo struct {
	Summary      string
	Scope        string
	Deliverables string
	Terms        string
	Doc          interface{} // rich-text JSON, decoded
}

// Service provides proposal export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	phase, err := s.store.GetPhase(ctx, req.PhaseID)
	if err != nil {
		return nil, fmt.Errorf("get phase: %w", err)
	}

	project, err := s.store.GetProject(ctx, phase.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	client, err := s.store.GetClient(ctx, project.ClientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}

	content, err := s.store.GetPhaseContent(ctx, req.PhaseID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get phase content: %w", err)
	}

	data := TemplateData{
		PhaseName:     phase.Name,
		Status:        phase.Status,
		Amount:        formatAmount(phase.AmountCents),
		ProjectName:   project.Name,
		ClientCompany: client.Company,
		ClientContact: client.Contact,
		Summary:       content.Summary,
		Scope:         content.Scope,
		Deliverables:  content.Deliverables,
		Terms:         content.Terms,
		ContentHTML:   template.HTML(ProseMirrorToHTML(content.Doc)),
		ExportedAt:    time.Now(),
	}

	html, err := RenderProposalHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	filename := project.Name + " " + phase.Name
	switch req.Format {
	case FormatPDF:
		return exportPDF(html, filename)
	case FormatDOCX:
		return exportDOCX(html, filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// formatAmount renders cents as a dollar string for the proposal header.
func formatAmount(cents int64) string {
	if cents == 0 {
		return ""
	}
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
