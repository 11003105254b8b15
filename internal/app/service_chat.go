package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"opsboard/api/internal/files"
	"opsboard/api/internal/rbac"
	"opsboard/api/internal/realtime"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

func isGuest(session Session) bool {
	return rbac.Normalize(session.Role) == rbac.RoleGuest
}

type ChannelInput struct {
	Name       *string `json:"name"`
	Topic      *string `json:"topic"`
	Visibility *string `json:"visibility"`
	ProjectID  *string `json:"projectId"`
}

func validVisibility(visibility string) bool {
	return visibility == "INTERNAL" || visibility == "CLIENT"
}

func (s *Service) ListChannels(ctx context.Context, session Session) ([]map[string]any, error) {
	channels, err := s.store.ListChannels(ctx, !isGuest(session))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channelPayload(channel))
	}
	return out, nil
}

// getVisibleChannel hides INTERNAL channels from guests entirely.
func (s *Service) getVisibleChannel(ctx context.Context, session Session, channelID string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return store.Channel{}, err
	}
	if isGuest(session) && channel.Visibility == "INTERNAL" {
		return store.Channel{}, sql.ErrNoRows
	}
	return channel, nil
}

func (s *Service) GetChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	channel, err := s.getVisibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	return channelPayload(channel), nil
}

func (s *Service) CreateChannel(ctx context.Context, session Session, input ChannelInput) (map[string]any, error) {
	name := strings.TrimSpace(strDeref(input.Name))
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	item := store.Channel{
		ID:         util.NewID("chn"),
		Name:       name,
		Topic:      strDeref(input.Topic),
		Visibility: firstNonBlank(strDeref(input.Visibility), "INTERNAL"),
		CreatedBy:  session.UserID,
	}
	if !validVisibility(item.Visibility) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be INTERNAL or CLIENT", nil)
	}
	if input.ProjectID != nil && strings.TrimSpace(*input.ProjectID) != "" {
		projectID := strings.TrimSpace(*input.ProjectID)
		if _, err := s.store.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
		item.ProjectID = &projectID
	}
	if err := s.store.InsertChannel(ctx, item); err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.publish("channels", realtime.ActionInsert, channel.ID, channelPayload(channel), channel.Visibility == "INTERNAL")
	return channelPayload(channel), nil
}

func (s *Service) UpdateChannel(ctx context.Context, session Session, channelID string, input ChannelInput) (map[string]any, error) {
	channel, err := s.getVisibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	applyStr(&channel.Name, input.Name)
	applyStr(&channel.Topic, input.Topic)
	applyStr(&channel.Visibility, input.Visibility)
	if strings.TrimSpace(channel.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if !validVisibility(channel.Visibility) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be INTERNAL or CLIENT", nil)
	}
	if err := s.store.UpdateChannel(ctx, channel.ID, channel.Name, channel.Topic, channel.Visibility); err != nil {
		return nil, err
	}
	channel, err = s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	s.publish("channels", realtime.ActionUpdate, channel.ID, channelPayload(channel), channel.Visibility == "INTERNAL")
	return channelPayload(channel), nil
}

func (s *Service) DeleteChannel(ctx context.Context, session Session, channelID string) error {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	// Messages go with the channel; only the channel event is published.
	if err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	s.publish("channels", realtime.ActionDelete, channelID, nil, channel.Visibility == "INTERNAL")
	return nil
}

// ListChannelMessages pages backwards from `before` and returns the page
// oldest-first, ready to prepend in the client.
func (s *Service) ListChannelMessages(ctx context.Context, session Session, channelID, beforeID string, limit int) ([]map[string]any, error) {
	if _, err := s.getVisibleChannel(ctx, session, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	messages, err := s.store.ListMessages(ctx, channelID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		out = append(out, messagePayload(messages[i]))
	}
	return out, nil
}

type MessageInput struct {
	Body         string  `json:"body"`
	AttachmentID *string `json:"attachmentId"`
}

func (s *Service) PostMessage(ctx context.Context, session Session, channelID string, input MessageInput) (map[string]any, error) {
	channel, err := s.getVisibleChannel(ctx, session, channelID)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	attachmentID := strings.TrimSpace(strDeref(input.AttachmentID))
	if body == "" && attachmentID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message body is required", nil)
	}
	item := store.Message{
		ID:        util.NewID("msg"),
		ChannelID: channel.ID,
		AuthorID:  session.UserID,
		Body:      body,
	}
	if attachmentID != "" {
		if _, err := s.store.GetAttachment(ctx, attachmentID); err != nil {
			return nil, err
		}
		item.AttachmentID = &attachmentID
	}
	if err := s.store.InsertMessage(ctx, item); err != nil {
		return nil, err
	}
	message, err := s.store.GetMessage(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.publish("messages", realtime.ActionInsert, message.ID, messagePayload(message), channel.Visibility == "INTERNAL")

	participants, err := s.store.RecentChannelParticipants(ctx, channel.ID, 0)
	if err == nil {
		preview := body
		if preview == "" {
			preview = "sent an attachment"
		}
		for _, userID := range participants {
			if userID == session.UserID {
				continue
			}
			s.notify(ctx, userID, "message_posted",
				"New message in #"+channel.Name,
				fmt.Sprintf("%s: %s", session.UserName, truncate(preview, 120)),
				"channel", channel.ID)
		}
	}
	return messagePayload(message), nil
}

func (s *Service) EditMessage(ctx context.Context, session Session, messageID, body string) (map[string]any, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.AuthorID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a message", nil)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message body is required", nil)
	}
	if err := s.store.UpdateMessageBody(ctx, messageID, body); err != nil {
		return nil, err
	}
	message, err = s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	internal := true
	if channel, err := s.store.GetChannel(ctx, message.ChannelID); err == nil {
		internal = channel.Visibility == "INTERNAL"
	}
	s.publish("messages", realtime.ActionUpdate, message.ID, messagePayload(message), internal)
	return messagePayload(message), nil
}

func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message.AuthorID != session.UserID && !s.Can(session.Role, rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or a manager can delete a message", nil)
	}
	internal := true
	if channel, err := s.store.GetChannel(ctx, message.ChannelID); err == nil {
		internal = channel.Visibility == "INTERNAL"
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.publish("messages", realtime.ActionDelete, messageID, nil, internal)
	return nil
}

// UploadAttachment streams the file into object storage and records the row.
// Attachments ride along with messages and tickets; they have no feed table.
func (s *Service) UploadAttachment(ctx context.Context, session Session, fileName, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	if size <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}
	if size > files.MaxAttachmentSize {
		return nil, domainError(http.StatusUnprocessableEntity, "FILE_TOO_LARGE", "File exceeds the 20 MiB attachment limit", map[string]any{"maxBytes": int64(files.MaxAttachmentSize)})
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "upload.bin"
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}

	item := store.Attachment{
		ID:          util.NewID("att"),
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	}
	item.ObjectKey = item.ID + "/" + fileName
	if err := s.files.Upload(ctx, item.ObjectKey, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		return nil, err
	}
	attachment, err := s.store.GetAttachment(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return attachmentPayload(attachment), nil
}

func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (map[string]any, error) {
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	url, err := s.files.PresignedURL(ctx, attachment.ObjectKey, attachment.FileName)
	if err != nil {
		return nil, fmt.Errorf("presign attachment: %w", err)
	}
	return map[string]any{
		"url":       url,
		"fileName":  attachment.FileName,
		"expiresIn": int(files.PresignTTL.Seconds()),
	}, nil
}

func channelPayload(channel store.Channel) map[string]any {
	var projectID any
	if channel.ProjectID != nil {
		projectID = *channel.ProjectID
	}
	return map[string]any{
		"id":         channel.ID,
		"name":       channel.Name,
		"topic":      nilIfEmpty(channel.Topic),
		"visibility": channel.Visibility,
		"projectId":  projectID,
		"createdBy":  channel.CreatedBy,
		"createdAt":  fmtTime(channel.CreatedAt),
		"updatedAt":  fmtTime(channel.UpdatedAt),
	}
}

func messagePayload(message store.Message) map[string]any {
	var attachmentID any
	if message.AttachmentID != nil {
		attachmentID = *message.AttachmentID
	}
	return map[string]any{
		"id":           message.ID,
		"channelId":    message.ChannelID,
		"authorId":     message.AuthorID,
		"authorName":   message.AuthorName,
		"authorColor":  nilIfEmpty(message.AuthorColor),
		"body":         message.Body,
		"attachmentId": attachmentID,
		"editedAt":     fmtTimePtr(message.EditedAt),
		"createdAt":    fmtTime(message.CreatedAt),
	}
}

func attachmentPayload(attachment store.Attachment) map[string]any {
	return map[string]any{
		"id":          attachment.ID,
		"fileName":    attachment.FileName,
		"contentType": attachment.ContentType,
		"sizeBytes":   attachment.SizeBytes,
		"uploadedBy":  attachment.UploadedBy,
		"createdAt":   fmtTime(attachment.CreatedAt),
	}
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "…"
}
