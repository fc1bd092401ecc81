package domain

import "time"

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusDone       DocumentStatus = "done"
	StatusError      DocumentStatus = "error"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Document is one ingested file. ObjectName points at the blob and chunks
// reference the document by ID.
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	ObjectName   string         `json:"-"`
	FileHash     string         `json:"fileHash"`
	Title        string         `json:"title"`
	Group        string         `json:"group"`
	Subgroup     string         `json:"subgroup"`
	Responsible  string         `json:"responsible"`
	Description  string         `json:"description"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	SizeBytes    int64          `json:"sizeBytes"`
	SubmittedAt  time.Time      `json:"submittedAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// DocumentMetadata holds the admin-editable fields of a document.
type DocumentMetadata struct {
	Title       string
	Group       string
	Subgroup    string
	Responsible string
	Description string
}

type DocumentPage struct {
	Items []Document
	Total int64
}

// PanelCounts aggregates the library for the admin dashboard.
type PanelCounts struct {
	Documents int64
	Groups    int64
	Subgroups int64
}

type GroupSummary struct {
	Group     string
	Subgroup  string
	Documents int64
}

type User struct {
	ID           string    `json:"id"`
	CPF          string    `json:"cpf"`
	PasswordHash string    `json:"-"`
	Responsible  string    `json:"responsible"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Turn is one persisted message of a WhatsApp conversation.
type Turn struct {
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the rolling per-phone summary of what the user has told us.
type Profile struct {
	Phone     string    `json:"phone"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Key        string            `json:"key"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"createdAt"`
}
