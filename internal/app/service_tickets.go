package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

type TicketInput struct {
	Subject      *string `json:"subject"`
	Body         *string `json:"body"`
	Priority     *string `json:"priority"`
	ClientID     *string `json:"clientId"`
	AssigneeID   *string `json:"assigneeId"`
	AttachmentID *string `json:"attachmentId"`
}

func validTicketStatus(status string) bool {
	switch status {
	case "open", "in_progress", "resolved", "closed":
		return true
	}
	return false
}

// allowedTicketTransition is the triage ladder: forward one step at a time,
// plus reopening a resolved ticket.
func allowedTicketTransition(from, to string) bool {
	switch from {
	case "open":
		return to == "in_progress"
	case "in_progress":
		return to == "resolved"
	case "resolved":
		return to == "closed" || to == "open"
	}
	return false
}

// ListTickets scopes guests to their own tickets; staff see everything the
// filters allow.
func (s *Service) ListTickets(ctx context.Context, session Session, status, assigneeID, clientID string) ([]map[string]any, error) {
	if status != "" && !validTicketStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of open, in_progress, resolved, closed", nil)
	}
	createdBy := ""
	if isGuest(session) {
		createdBy = session.UserID
	}
	tickets, err := s.store.ListTickets(ctx, status, assigneeID, clientID, createdBy)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, ticketPayload(ticket))
	}
	return out, nil
}

func (s *Service) GetTicket(ctx context.Context, session Session, ticketID string) (map[string]any, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if isGuest(session) && ticket.CreatedBy != session.UserID {
		return nil, sql.ErrNoRows
	}
	return ticketPayload(ticket), nil
}

// CreateTicket is open to guests (the client portal's escalation path). For
// guests the client link is inferred from their email; staff set it directly.
func (s *Service) CreateTicket(ctx context.Context, session Session, input TicketInput) (map[string]any, error) {
	subject := strings.TrimSpace(strDeref(input.Subject))
	if subject == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subject is required", nil)
	}
	item := store.Ticket{
		ID:        util.NewID("tck"),
		Subject:   subject,
		Body:      strDeref(input.Body),
		Status:    "open",
		Priority:  firstNonBlank(strDeref(input.Priority), "medium"),
		CreatedBy: session.UserID,
	}
	if !validPriority(item.Priority) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}

	if isGuest(session) {
		if clientID := s.inferClientID(ctx, session.UserID); clientID != "" {
			item.ClientID = &clientID
		}
	} else {
		if clientID := strings.TrimSpace(strDeref(input.ClientID)); clientID != "" {
			if _, err := s.store.GetClient(ctx, clientID); err != nil {
				return nil, err
			}
			item.ClientID = &clientID
		}
		if assigneeID := strings.TrimSpace(strDeref(input.AssigneeID)); assigneeID != "" {
			if _, err := s.store.GetUserByID(ctx, assigneeID); err != nil {
				return nil, err
			}
			item.AssigneeID = &assigneeID
		}
	}
	if attachmentID := strings.TrimSpace(strDeref(input.AttachmentID)); attachmentID != "" {
		if _, err := s.store.GetAttachment(ctx, attachmentID); err != nil {
			return nil, err
		}
		item.AttachmentID = &attachmentID
	}

	if err := s.store.InsertTicket(ctx, item); err != nil {
		return nil, err
	}
	ticket, err := s.store.GetTicket(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexTicket(ticket)
	s.publish("tickets", realtime.ActionInsert, ticket.ID, ticketPayload(ticket), false)

	body := fmt.Sprintf("%s opened a ticket", session.UserName)
	if ticket.ClientCompany != "" {
		body = fmt.Sprintf("%s opened a ticket for %s", session.UserName, ticket.ClientCompany)
	}
	s.notifyManagers(ctx, session.UserID, "ticket_created", "New ticket: "+ticket.Subject, body, "ticket", ticket.ID)

	if ticket.AssigneeID != nil && *ticket.AssigneeID != session.UserID {
		s.notify(ctx, *ticket.AssigneeID, "ticket_updated",
			"Ticket assigned: "+ticket.Subject,
			fmt.Sprintf("%s assigned you a ticket", session.UserName),
			"ticket", ticket.ID)
	}
	return ticketPayload(ticket), nil
}

func (s *Service) UpdateTicket(ctx context.Context, session Session, ticketID string, input TicketInput) (map[string]any, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	applyStr(&ticket.Subject, input.Subject)
	if input.Body != nil {
		ticket.Body = *input.Body
	}
	applyStr(&ticket.Priority, input.Priority)
	if strings.TrimSpace(ticket.Subject) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subject is required", nil)
	}
	if !validPriority(ticket.Priority) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}
	if input.ClientID != nil {
		clientID := strings.TrimSpace(*input.ClientID)
		if clientID == "" {
			ticket.ClientID = nil
		} else {
			if _, err := s.store.GetClient(ctx, clientID); err != nil {
				return nil, err
			}
			ticket.ClientID = &clientID
		}
	}

	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	ticket, err = s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.indexTicket(ticket)
	s.publish("tickets", realtime.ActionUpdate, ticket.ID, ticketPayload(ticket), false)
	return ticketPayload(ticket), nil
}

func (s *Service) UpdateTicketStatus(ctx context.Context, session Session, ticketID, status string) (map[string]any, error) {
	if !validTicketStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of open, in_progress, resolved, closed", nil)
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !allowedTicketTransition(ticket.Status, status) {
		return nil, domainError(http.StatusConflict, "TICKET_STATUS_BLOCKED", "Ticket status cannot change that way", map[string]any{"from": ticket.Status, "to": status})
	}
	if err := s.store.UpdateTicketStatus(ctx, ticketID, status); err != nil {
		return nil, err
	}
	ticket, err = s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.publish("tickets", realtime.ActionUpdate, ticket.ID, ticketPayload(ticket), false)

	title := fmt.Sprintf("Ticket %s: %s", humanTicketStatus(status), ticket.Subject)
	body := fmt.Sprintf("%s marked the ticket %s", session.UserName, humanTicketStatus(status))
	for _, userID := range ticketWatchers(ticket, session.UserID) {
		s.notify(ctx, userID, "ticket_updated", title, body, "ticket", ticket.ID)
	}
	return ticketPayload(ticket), nil
}

func (s *Service) AssignTicket(ctx context.Context, session Session, ticketID, assigneeID string) (map[string]any, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	assigneeID = strings.TrimSpace(assigneeID)
	var assignee *string
	if assigneeID != "" {
		if _, err := s.store.GetUserByID(ctx, assigneeID); err != nil {
			return nil, err
		}
		assignee = &assigneeID
	}
	if err := s.store.AssignTicket(ctx, ticket.ID, assignee); err != nil {
		return nil, err
	}
	ticket, err = s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.publish("tickets", realtime.ActionUpdate, ticket.ID, ticketPayload(ticket), false)

	if assignee != nil && *assignee != session.UserID {
		s.notify(ctx, *assignee, "ticket_updated",
			"Ticket assigned: "+ticket.Subject,
			fmt.Sprintf("%s assigned you a ticket", session.UserName),
			"ticket", ticket.ID)
	}
	return ticketPayload(ticket), nil
}

func (s *Service) DeleteTicket(ctx context.Context, session Session, ticketID string) error {
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return err
	}
	if err := s.store.DeleteTicket(ctx, ticketID); err != nil {
		return err
	}
	s.search.DeleteTicket(ticketID)
	s.publish("tickets", realtime.ActionDelete, ticketID, nil, false)
	return nil
}

// inferClientID links a portal user's ticket to the client record sharing
// their email. Best effort; unmatched guests file unlinked tickets.
func (s *Service) inferClientID(ctx context.Context, userID string) string {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil || user.Email == "" {
		return ""
	}
	clients, err := s.store.ListClients(ctx, "")
	if err != nil {
		return ""
	}
	for _, client := range clients {
		if client.Email != "" && strings.EqualFold(client.Email, user.Email) {
			return client.ID
		}
	}
	return ""
}

// ticketWatchers is the status-change fan-out list: creator and assignee,
// minus the actor, deduplicated.
func ticketWatchers(ticket store.Ticket, actorID string) []string {
	seen := map[string]bool{actorID: true}
	watchers := make([]string, 0, 2)
	for _, userID := range []string{ticket.CreatedBy, strDeref(ticket.AssigneeID)} {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		watchers = append(watchers, userID)
	}
	return watchers
}

func humanTicketStatus(status string) string {
	switch status {
	case "open":
		return "reopened"
	case "in_progress":
		return "in progress"
	}
	return status
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	items, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, notificationPayload(item))
	}
	return out, nil
}

func (s *Service) NotificationCount(ctx context.Context, session Session) (map[string]any, error) {
	unread, err := s.store.UnreadNotificationCount(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"unread": unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, notificationID, session.UserID); err != nil {
		return err
	}
	// Other open tabs of the same user refetch their badge on this.
	s.publish("notifications", realtime.ActionUpdate, notificationID, nil, !session.IsExternal)
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (map[string]any, error) {
	updated, err := s.store.MarkAllNotificationsRead(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if updated > 0 {
		s.publish("notifications", realtime.ActionUpdate, "", nil, !session.IsExternal)
	}
	return map[string]any{"updated": updated}, nil
}

func (s *Service) indexTicket(ticket store.Ticket) {
	s.search.IndexTicket(search.TicketRecord{
		ID:       ticket.ID,
		Subject:  ticket.Subject,
		Body:     ticket.Body,
		ClientID: strDeref(ticket.ClientID),
		Status:   ticket.Status,
	})
}

func ticketPayload(ticket store.Ticket) map[string]any {
	var clientID, assigneeID, attachmentID any
	if ticket.ClientID != nil {
		clientID = *ticket.ClientID
	}
	if ticket.AssigneeID != nil {
		assigneeID = *ticket.AssigneeID
	}
	if ticket.AttachmentID != nil {
		attachmentID = *ticket.AttachmentID
	}
	return map[string]any{
		"id":            ticket.ID,
		"clientId":      clientID,
		"clientCompany": nilIfEmpty(ticket.ClientCompany),
		"subject":       ticket.Subject,
		"body":          nilIfEmpty(ticket.Body),
		"status":        ticket.Status,
		"priority":      ticket.Priority,
		"assigneeId":    assigneeID,
		"assigneeName":  nilIfEmpty(ticket.AssigneeName),
		"attachmentId":  attachmentID,
		"createdBy":     ticket.CreatedBy,
		"creatorName":   nilIfEmpty(ticket.CreatorName),
		"createdAt":     fmtTime(ticket.CreatedAt),
		"updatedAt":     fmtTime(ticket.UpdatedAt),
	}
}

func notificationPayload(item store.Notification) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"kind":       item.Kind,
		"title":      item.Title,
		"body":       nilIfEmpty(item.Body),
		"entityType": item.EntityType,
		"entityId":   item.EntityID,
		"readAt":     fmtTimePtr(item.ReadAt),
		"createdAt":  fmtTime(item.CreatedAt),
		"when":       relative(item.CreatedAt),
	}
}
