package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID           string    `gorm:"primaryKey"`
	Filename     string    `gorm:"not null"`
	ObjectName   string    `gorm:"not null"`
	FileHash     string    `gorm:"uniqueIndex;not null"`
	Title        string    `gorm:"not null;index"`
	Group        string    `gorm:"column:group_name;not null"`
	Subgroup     string    `gorm:"not null"`
	Responsible  string    `gorm:"not null"`
	Description  string    `gorm:"type:text"`
	Status       string    `gorm:"not null"`
	ErrorMessage string    `gorm:"type:text"`
	SizeBytes    int64     `gorm:"not null"`
	SubmittedAt  time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "indexed_documents" }

type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	CPF          string    `gorm:"column:cpf;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Responsible  string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "admin_users" }

type TurnModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Phone     string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TurnModel) TableName() string { return "conversation_turns" }

type ProfileModel struct {
	Phone     string    `gorm:"primaryKey"`
	Summary   string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "user_profiles" }

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	DocumentID string           `gorm:"not null;index;uniqueIndex:idx_chunk_document_key"`
	Key        string           `gorm:"not null;uniqueIndex:idx_chunk_document_key"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt  time.Time        `gorm:"not null"`
}

func (ChunkModel) TableName() string { return "document_chunks" }
