package app

import (
	"context"
	"net/http"
	"strings"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

// ClientInput covers create and update. Nil fields keep the current value on
// update; create reads whatever is set.
type ClientInput struct {
	Company   *string `json:"company"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Status    *string `json:"status"`
	Notes     *string `json:"notes"`
}

func validClientStatus(status string) bool {
	switch status {
	case "lead", "active", "archived":
		return true
	}
	return false
}

func (s *Service) ListClients(ctx context.Context, status string) ([]map[string]any, error) {
	if status != "" && !validClientStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of lead, active, archived", nil)
	}
	clients, err := s.store.ListClients(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(clients))
	for _, client := range clients {
		out = append(out, clientPayload(client))
	}
	return out, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return clientPayload(client), nil
}

func (s *Service) CreateClient(ctx context.Context, session Session, input ClientInput) (map[string]any, error) {
	item := store.Client{
		ID:        util.NewID("cli"),
		Company:   strDeref(input.Company),
		FirstName: strDeref(input.FirstName),
		LastName:  strDeref(input.LastName),
		Email:     strDeref(input.Email),
		Phone:     strDeref(input.Phone),
		Status:    firstNonBlank(strDeref(input.Status), "lead"),
		Notes:     strDeref(input.Notes),
	}
	if strings.TrimSpace(item.FirstName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "first name is required", nil)
	}
	if !validClientStatus(item.Status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of lead, active, archived", nil)
	}
	if err := s.store.InsertClient(ctx, item); err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexClient(client)
	s.publish("clients", realtime.ActionInsert, client.ID, clientPayload(client), false)
	return clientPayload(client), nil
}

func (s *Service) UpdateClient(ctx context.Context, session Session, clientID string, input ClientInput) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	applyStr(&client.Company, input.Company)
	applyStr(&client.FirstName, input.FirstName)
	applyStr(&client.LastName, input.LastName)
	applyStr(&client.Email, input.Email)
	applyStr(&client.Phone, input.Phone)
	applyStr(&client.Status, input.Status)
	applyStr(&client.Notes, input.Notes)

	if strings.TrimSpace(client.FirstName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "first name is required", nil)
	}
	if !validClientStatus(client.Status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of lead, active, archived", nil)
	}
	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, err
	}
	client, err = s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	s.indexClient(client)
	s.publish("clients", realtime.ActionUpdate, client.ID, clientPayload(client), false)
	return clientPayload(client), nil
}

func (s *Service) DeleteClient(ctx context.Context, session Session, clientID string) error {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return err
	}
	count, err := s.store.ClientProjectCount(ctx, clientID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainError(http.StatusConflict, "CLIENT_HAS_PROJECTS", "Client still has projects", map[string]any{"projects": count})
	}
	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		return err
	}
	s.search.DeleteClient(clientID)
	s.publish("clients", realtime.ActionDelete, clientID, nil, false)
	return nil
}

// CredentialInput covers create and update of vault entries.
type CredentialInput struct {
	Label    *string `json:"label"`
	Username *string `json:"username"`
	Secret   *string `json:"secret"`
	URL      *string `json:"url"`
	Notes    *string `json:"notes"`
}

// Credentials never touch the search index or the change feed.

func (s *Service) ListClientCredentials(ctx context.Context, session Session, clientID, pin string) ([]map[string]any, error) {
	if err := s.checkAccessPIN(ctx, session, pin); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	creds, err := s.store.ListCredentials(ctx, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(creds))
	for _, cred := range creds {
		out = append(out, credentialPayload(cred))
	}
	return out, nil
}

func (s *Service) CreateCredential(ctx context.Context, session Session, clientID, pin string, input CredentialInput) (map[string]any, error) {
	if err := s.checkAccessPIN(ctx, session, pin); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	item := store.Credential{
		ID:       util.NewID("crd"),
		ClientID: clientID,
		Label:    strDeref(input.Label),
		Username: strDeref(input.Username),
		Secret:   strDeref(input.Secret),
		URL:      strDeref(input.URL),
		Notes:    strDeref(input.Notes),
	}
	if strings.TrimSpace(item.Label) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "label is required", nil)
	}
	if err := s.store.InsertCredential(ctx, item); err != nil {
		return nil, err
	}
	cred, err := s.store.GetCredential(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return credentialPayload(cred), nil
}

func (s *Service) UpdateCredential(ctx context.Context, session Session, credentialID, pin string, input CredentialInput) (map[string]any, error) {
	if err := s.checkAccessPIN(ctx, session, pin); err != nil {
		return nil, err
	}
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	applyStr(&cred.Label, input.Label)
	applyStr(&cred.Username, input.Username)
	applyStr(&cred.Secret, input.Secret)
	applyStr(&cred.URL, input.URL)
	applyStr(&cred.Notes, input.Notes)
	if strings.TrimSpace(cred.Label) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "label is required", nil)
	}
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return nil, err
	}
	cred, err = s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	return credentialPayload(cred), nil
}

func (s *Service) DeleteCredential(ctx context.Context, session Session, credentialID, pin string) error {
	if err := s.checkAccessPIN(ctx, session, pin); err != nil {
		return err
	}
	if _, err := s.store.GetCredential(ctx, credentialID); err != nil {
		return err
	}
	return s.store.DeleteCredential(ctx, credentialID)
}

func (s *Service) indexClient(client store.Client) {
	s.search.IndexClient(search.ClientRecord{
		ID:      client.ID,
		Company: client.Company,
		Contact: clientContact(client),
		Email:   client.Email,
		Notes:   client.Notes,
		Status:  client.Status,
	})
}

func clientPayload(client store.Client) map[string]any {
	return map[string]any{
		"id":        client.ID,
		"company":   nilIfEmpty(client.Company),
		"firstName": client.FirstName,
		"lastName":  nilIfEmpty(client.LastName),
		"contact":   clientContact(client),
		"email":     nilIfEmpty(client.Email),
		"phone":     nilIfEmpty(client.Phone),
		"status":    client.Status,
		"notes":     nilIfEmpty(client.Notes),
		"createdAt": fmtTime(client.CreatedAt),
		"updatedAt": fmtTime(client.UpdatedAt),
	}
}

func credentialPayload(cred store.Credential) map[string]any {
	return map[string]any{
		"id":        cred.ID,
		"clientId":  cred.ClientID,
		"label":     cred.Label,
		"username":  nilIfEmpty(cred.Username),
		"secret":    cred.Secret,
		"url":       nilIfEmpty(cred.URL),
		"notes":     nilIfEmpty(cred.Notes),
		"createdAt": fmtTime(cred.CreatedAt),
		"updatedAt": fmtTime(cred.UpdatedAt),
	}
}

func strDeref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func applyStr(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}
