package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is one ingested source inside a knowledge base. Parsing and
// extraction happen upstream; this core only reads documents for
// provenance and ordering.
type Document struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	KnowledgeBaseID uuid.UUID      `gorm:"type:uuid;not null;index" json:"knowledge_base_id"`
	KnowledgeBase   *KnowledgeBase `gorm:"constraint:OnDelete:CASCADE;foreignKey:KnowledgeBaseID;references:ID" json:"knowledge_base,omitempty"`
	Name            string         `gorm:"column:name;not null" json:"name"`
	Status          string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "documents" }
