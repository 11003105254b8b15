package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsboard/api/internal/auth"
	"opsboard/api/internal/authpw"
	"opsboard/api/internal/config"
	"opsboard/api/internal/email"
	"opsboard/api/internal/export"
	"opsboard/api/internal/files"
	"opsboard/api/internal/rbac"
	"opsboard/api/internal/realtime"
	"opsboard/api/internal/revisions"
	"opsboard/api/internal/search"
	"opsboard/api/internal/session"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	IsExternal   bool
	JTI          string
	ExpiresAt    time.Time
}

// dataStore lists every Postgres operation the service layer uses.
type dataStore interface {
	// users
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserProfile(ctx context.Context, userID, displayName, avatarColor string, notifyEmail bool) error
	UpdateUserPIN(ctx context.Context, userID, pin string) error
	UpdateUserRole(ctx context.Context, userID, role string, isExternal bool) error

	// access token revocation list (always Postgres, even with Redis sessions)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// clients + credentials
	ListClients(ctx context.Context, status string) ([]store.Client, error)
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	InsertClient(ctx context.Context, item store.Client) error
	UpdateClient(ctx context.Context, item store.Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ClientProjectCount(ctx context.Context, clientID string) (int, error)
	ListCredentials(ctx context.Context, clientID string) ([]store.Credential, error)
	GetCredential(ctx context.Context, credentialID string) (store.Credential, error)
	InsertCredential(ctx context.Context, item store.Credential) error
	UpdateCredential(ctx context.Context, item store.Credential) error
	DeleteCredential(ctx context.Context, credentialID string) error

	// projects + phases
	ListProjects(ctx context.Context, clientID, status string) ([]store.Project, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	InsertProject(ctx context.Context, item store.Project) error
	UpdateProject(ctx context.Context, item store.Project) error
	DeleteProject(ctx context.Context, projectID string) error
	ListPhases(ctx context.Context, projectID string) ([]store.Phase, error)
	GetPhase(ctx context.Context, phaseID string) (store.Phase, error)
	InsertPhase(ctx context.Context, item store.Phase) (store.Phase, error)
	UpdatePhase(ctx context.Context, phaseID, name, description string, amountCents int64) error
	UpdatePhaseStatus(ctx context.Context, phaseID, status, decisionNote string) error
	DeletePhase(ctx context.Context, phaseID string) error
	ReorderPhase(ctx context.Context, projectID, phaseID string, position int) error

	// tasks
	ListTasks(ctx context.Context, projectID, status, assigneeID string) ([]store.Task, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	InsertTask(ctx context.Context, item store.Task) (store.Task, error)
	UpdateTask(ctx context.Context, item store.Task) error
	DeleteTask(ctx context.Context, taskID string) error
	MoveTask(ctx context.Context, taskID, newStatus string, position int) (store.Task, error)

	// chat
	ListChannels(ctx context.Context, includeInternal bool) ([]store.Channel, error)
	GetChannel(ctx context.Context, channelID string) (store.Channel, error)
	InsertChannel(ctx context.Context, item store.Channel) error
	UpdateChannel(ctx context.Context, channelID, name, topic, visibility string) error
	DeleteChannel(ctx context.Context, channelID string) error
	ListMessages(ctx context.Context, channelID, beforeID string, limit int) ([]store.Message, error)
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	InsertMessage(ctx context.Context, item store.Message) error
	UpdateMessageBody(ctx context.Context, messageID, body string) error
	DeleteMessage(ctx context.Context, messageID string) error
	RecentChannelParticipants(ctx context.Context, channelID string, window int) ([]string, error)
	InsertAttachment(ctx context.Context, item store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)

	// tickets + notifications
	ListTickets(ctx context.Context, status, assigneeID, clientID, createdBy string) ([]store.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (store.Ticket, error)
	InsertTicket(ctx context.Context, item store.Ticket) error
	UpdateTicket(ctx context.Context, item store.Ticket) error
	UpdateTicketStatus(ctx context.Context, ticketID, status string) error
	AssignTicket(ctx context.Context, ticketID string, assigneeID *string) error
	DeleteTicket(ctx context.Context, ticketID string) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error)
	InsertNotification(ctx context.Context, item store.Notification) error
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeExpiredAuthRows(ctx context.Context) (int64, error)

	// dashboard + health
	DashboardCounts(ctx context.Context, userID string) (store.DashboardSummary, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh tokens. Redis when configured, Postgres otherwise.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type revisionService interface {
	EnsurePhaseRepo(phaseID string, initial revisions.Content, author string) error
	CommitContent(phaseID string, content revisions.Content, author, message string) (store.CommitInfo, error)
	GetHeadContent(phaseID string) (revisions.Content, store.CommitInfo, error)
	GetContentByHash(phaseID, hash string) (revisions.Content, error)
	GetCommitByHash(phaseID, hash string) (store.CommitInfo, error)
	History(phaseID string, limit int) ([]store.CommitInfo, error)
	CreateTag(phaseID, hash, name string) error
	ListTags(phaseID string) ([]string, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexClient(c search.ClientRecord)
	IndexProject(p search.ProjectRecord)
	IndexTask(t search.TaskRecord)
	IndexTicket(t search.TicketRecord)
	DeleteClient(id string)
	DeleteProject(id string)
	DeleteTask(id string)
	DeleteTicket(id string)
	ReindexAllFromPG(ctx context.Context)
}

type fileStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key, filename string) (string, error)
	Remove(ctx context.Context, key string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendNotificationEmail(to, userName, title, body, linkURL string) error
}

type proposalExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	revs     revisionService
	search   searchIndex
	hub      *realtime.Hub
	authpw   *authpw.Service
	exporter proposalExporter

	// optional collaborators, nil when unconfigured
	mail  mailer
	files fileStore

	// set when sessions live in Redis so /api/ready can check it
	sessionPinger interface {
		Ping(ctx context.Context) error
	}
}

func New(cfg config.Config, dataStore *store.PostgresStore, revisionSvc *revisions.Service, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		revs:     revisionSvc,
		search:   searchSvc,
		hub:      realtime.NewHub(),
		authpw:   authpw.NewService(dataStore, cfg.TokenSecret),
	}
	svc.exporter = export.NewService(&exportData{store: svc.store, revs: svc.revs})
	return svc
}

// NewWithSessionStore keeps refresh tokens in Redis instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, revisionSvc *revisions.Service, searchSvc *search.Service) *Service {
	svc := New(cfg, dataStore, revisionSvc, searchSvc)
	svc.sessions = sessions
	svc.sessionPinger = sessions
	return svc
}

func (s *Service) SetMail(mail *email.Service) {
	if mail != nil {
		s.mail = mail
	}
}

func (s *Service) SetFiles(fileSvc *files.Service) {
	if fileSvc != nil {
		s.files = fileSvc
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

// SendVerificationEmail mails the signup verification link. Callers guard
// with SMTPConfigured; delivery is fire-and-forget.
func (s *Service) SendVerificationEmail(emailAddr, displayName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	mail := s.mail
	link := s.publicLink("/verify-email", token)
	go func() {
		if err := mail.SendVerificationEmail(emailAddr, displayName, link); err != nil {
			log.Printf("mail: verification to %s: %v", emailAddr, err)
		}
	}()
}

// SendPasswordResetEmail mails the reset link to a known account.
func (s *Service) SendPasswordResetEmail(ctx context.Context, emailAddr, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	displayName := emailAddr
	if user, err := s.store.GetUserByEmail(ctx, emailAddr); err == nil {
		displayName = user.DisplayName
	}
	mail := s.mail
	link := s.publicLink("/reset-password", token)
	go func() {
		if err := mail.SendPasswordResetEmail(emailAddr, displayName, link); err != nil {
			log.Printf("mail: password reset to %s: %v", emailAddr, err)
		}
	}()
}

func (s *Service) publicLink(path, token string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadyChecks pings the backing stores; the map value is nil when healthy.
func (s *Service) ReadyChecks(ctx context.Context) map[string]error {
	checks := map[string]error{
		"database": s.store.Ping(ctx),
	}
	if s.sessionPinger != nil {
		checks["redis"] = s.sessionPinger.Ping(ctx)
	}
	return checks
}

// CreateSession issues tokens for a user who already passed password auth.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, authpw.ErrAccountDeactivated
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Reload so role changes and deactivation take effect on rotation.
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, authpw.ErrAccountDeactivated
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:      user.ID,
		Name:     user.DisplayName,
		Role:     user.Role,
		External: user.IsExternal,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		IsExternal:   user.IsExternal,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Role:       user.Role,
		IsExternal: user.IsExternal,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// DeleteAccount deactivates the caller after password confirmation and kills
// the live session. The refresh token dies with the account: rotation reloads
// the user and rejects deactivated ones.
func (s *Service) DeleteAccount(ctx context.Context, session Session, password, refreshToken string) error {
	if err := s.authpw.DeactivateAccount(ctx, session.UserID, password); err != nil {
		return err
	}
	_ = s.Logout(ctx, session, refreshToken)
	s.publish("users", realtime.ActionUpdate, session.UserID, nil, true)
	return nil
}

func (s *Service) Search(ctx context.Context, q, filterType string, limit, offset int) (map[string]any, error) {
	resultType := search.ResultType(strings.ToLower(strings.TrimSpace(filterType)))
	switch resultType {
	case "", search.ResultClient, search.ResultProject, search.ResultTask, search.ResultTicket:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be one of client, project, task, ticket", nil)
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	resp := s.search.Search(search.Query{
		Text:       strings.TrimSpace(q),
		FilterType: resultType,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	counts, err := s.store.DashboardCounts(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListNotifications(ctx, session.UserID, false, 10)
	if err != nil {
		return nil, err
	}
	activity := make([]map[string]any, 0, len(recent))
	for _, item := range recent {
		activity = append(activity, notificationPayload(item))
	}
	return map[string]any{
		"counts": map[string]int{
			"activeClients":       counts.ActiveClients,
			"openProjects":        counts.OpenProjects,
			"tasksDueThisWeek":    counts.TasksDueSoon,
			"openTickets":         counts.OpenTickets,
			"pendingPhases":       counts.PendingPhases,
			"unreadNotifications": counts.UnreadForUser,
		},
		"recentActivity": activity,
	}, nil
}

// notificationRetention is how long read notifications are kept before the
// nightly purge removes them.
const notificationRetention = 30 * 24 * time.Hour

// RunMaintenance is the manual trigger behind POST /api/admin/maintenance.
// The janitor runs the same steps nightly.
func (s *Service) RunMaintenance(ctx context.Context) (map[string]any, error) {
	notifications, err := s.store.PurgeReadNotifications(ctx, time.Now().Add(-notificationRetention))
	if err != nil {
		return nil, fmt.Errorf("purge notifications: %w", err)
	}
	authRows, err := s.store.PurgeExpiredAuthRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge auth rows: %w", err)
	}
	s.search.ReindexAllFromPG(ctx)
	return map[string]any{
		"ok":                   true,
		"notificationsPurged":  notifications,
		"authRowsPurged":       authRows,
		"searchReindexStarted": true,
	}, nil
}

// publish emits one change-feed event. Mutations call it after the row is
// committed; internal marks events guests must not receive.
func (s *Service) publish(table string, action realtime.Action, id string, record map[string]any, internal bool) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(realtime.Event{
		Table:    table,
		Action:   action,
		ID:       id,
		Record:   record,
		Internal: internal,
	})
}

// notify inserts a notification row, publishes it, and fans out email when
// the recipient opted in. Failures are logged, never returned: notification
// delivery must not fail the mutation that produced it.
func (s *Service) notify(ctx context.Context, userID, kind, title, body, entityType, entityID string) {
	if userID == "" {
		return
	}
	item := store.Notification{
		ID:         util.NewID("ntf"),
		UserID:     userID,
		Kind:       kind,
		Title:      title,
		Body:       body,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertNotification(ctx, item); err != nil {
		log.Printf("notify: insert for user %s: %v", userID, err)
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		log.Printf("notify: load user %s: %v", userID, err)
		return
	}
	s.publish("notifications", realtime.ActionInsert, item.ID, notificationPayload(item), !user.IsExternal)

	if s.SMTPConfigured() && user.NotifyEmail && user.Email != "" {
		mail := s.mail
		linkURL := s.cfg.PublicBaseURL
		go func(to, name string) {
			if err := mail.SendNotificationEmail(to, name, title, body, linkURL); err != nil {
				log.Printf("notify: email to %s: %v", to, err)
			}
		}(user.Email, user.DisplayName)
	}
}

// notifyManagers fans one notification out to every active manager and admin,
// skipping the actor who caused it.
func (s *Service) notifyManagers(ctx context.Context, actorID, kind, title, body, entityType, entityID string) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Printf("notify: list managers: %v", err)
		return
	}
	for _, user := range users {
		if user.ID == actorID || user.DeactivatedAt != nil {
			continue
		}
		if user.Role != "manager" && user.Role != "admin" {
			continue
		}
		s.notify(ctx, user.ID, kind, title, body, entityType, entityID)
	}
}

// exportData adapts the store and revision history to the export renderer.
type exportData struct {
	store dataStore
	revs  revisionService
}

func (d *exportData) GetPhase(ctx context.Context, id string) (export.PhaseInfo, error) {
	phase, err := d.store.GetPhase(ctx, id)
	if err != nil {
		return export.PhaseInfo{}, err
	}
	return export.PhaseInfo{
		ID:          phase.ID,
		Name:        phase.Name,
		Status:      phase.Status,
		ProjectID:   phase.ProjectID,
		AmountCents: phase.AmountCents,
	}, nil
}

func (d *exportData) GetProject(ctx context.Context, id string) (export.ProjectInfo, error) {
	project, err := d.store.GetProject(ctx, id)
	if err != nil {
		return export.ProjectInfo{}, err
	}
	return export.ProjectInfo{
		ID:       project.ID,
		Name:     project.Name,
		ClientID: project.ClientID,
	}, nil
}

func (d *exportData) GetClient(ctx context.Context, id string) (export.ClientInfo, error) {
	client, err := d.store.GetClient(ctx, id)
	if err != nil {
		return export.ClientInfo{}, err
	}
	return export.ClientInfo{
		ID:      client.ID,
		Company: client.Company,
		Contact: clientContact(client),
	}, nil
}

func (d *exportData) GetPhaseContent(ctx context.Context, phaseID, version string) (export.ContentInfo, error) {
	var content revisions.Content
	var err error
	if version == "" || version == "latest" {
		content, _, err = d.revs.GetHeadContent(phaseID)
	} else {
		content, err = d.revs.GetContentByHash(phaseID, version)
	}
	if err != nil {
		return export.ContentInfo{}, err
	}
	info := export.ContentInfo{
		Summary:      content.Summary,
		Scope:        content.Scope,
		Deliverables: content.Deliverables,
		Terms:        content.Terms,
	}
	if len(content.Doc) > 0 {
		var parsed any
		if err := json.Unmarshal(content.Doc, &parsed); err == nil {
			info.Doc = parsed
		}
	}
	return info, nil
}

func clientContact(client store.Client) string {
	return strings.TrimSpace(strings.TrimSpace(client.FirstName) + " " + strings.TrimSpace(client.LastName))
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func fmtTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func fmtTimePtr(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}

func relative(value time.Time) string {
	minutes := int(time.Since(value).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}
