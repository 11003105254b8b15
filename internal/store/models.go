package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsExternal            bool
	AvatarColor           string
	AccessPIN             string
	NotifyEmail           bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Client struct {
	ID        string
	Company   string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Status    string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Credential struct {
	ID        string
	ClientID  string
	Label     string
	Username  string
	Secret    string
	URL       string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Project struct {
	ID          string
	ClientID    string
	Name        string
	Description string
	Status      string
	StartDate   *time.Time
	DueDate     *time.Time
	BudgetCents int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	ClientCompany string
	ClientContact string
}

type Phase struct {
	ID           string
	ProjectID    string
	Name         string
	Description  string
	Position     int
	Status       string
	AmountCents  int64
	SentAt       *time.Time
	DecidedAt    *time.Time
	DecisionNote string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Position    int
	Priority    string
	AssigneeID  *string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	AssigneeName string
}

type Channel struct {
	ID         string
	Name       string
	Topic      string
	Visibility string
	ProjectID  *string
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Message struct {
	ID           string
	ChannelID    string
	AuthorID     string
	Body         string
	AttachmentID *string
	EditedAt     *time.Time
	CreatedAt    time.Time
	// Joined fields for API responses
	AuthorName  string
	AuthorColor string
}

type Attachment struct {
	ID          string
	ObjectKey   string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

type Ticket struct {
	ID           string
	ClientID     *string
	Subject      string
	Body         string
	Status       string
	Priority     string
	AssigneeID   *string
	AttachmentID *string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Joined fields for API responses
	ClientCompany string
	AssigneeName  string
	CreatorName   string
}

type Notification struct {
	ID         string
	UserID     string
	Kind       string
	Title      string
	Body       string
	EntityType string
	EntityID   string
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// CommitInfo describes one revision of a phase's proposal content.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}

// DashboardSummary holds the counters for the overview screen.
type DashboardSummary struct {
	ActiveClients int
	OpenProjects  int
	TasksDueSoon  int
	OpenTickets   int
	UnreadForUser int
	PendingPhases int
}
