package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClient  ResultType = "client"
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultTicket  ResultType = "ticket"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ClientID  string     `json:"clientId,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexClient(c ClientRecord) error
	IndexProject(p ProjectRecord) error
	IndexTask(t TaskRecord) error
	IndexTicket(t TicketRecord) error
	DeleteClient(id string) error
	DeleteProject(id string) error
	DeleteTask(id string) error
	DeleteTicket(id string) error
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID      string `json:"id"`
	Company string `json:"company"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Notes   string `json:"notes"`
	Status  string `json:"status"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ClientID    string `json:"clientId"`
	Status      string `json:"status"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
}

// TicketRecord is the data we index for a ticket.
type TicketRecord struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
}
