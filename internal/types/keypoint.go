package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Keypoint is one extracted concept statement scoped to a source document.
// Rows are created by the extraction pipeline upstream; this core only
// mutates the mastery fields.
type Keypoint struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index:idx_keypoint_user_kb,priority:1" json:"user_id"`
	KnowledgeBaseID uuid.UUID `gorm:"type:uuid;not null;index:idx_keypoint_user_kb,priority:2" json:"knowledge_base_id"`
	DocumentID      uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document        *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	Text        string `gorm:"column:text;not null" json:"text"`
	Explanation string `gorm:"column:explanation" json:"explanation,omitempty"`

	// Source locator, denormalized for display.
	DocumentName string `gorm:"column:document_name" json:"document_name,omitempty"`
	PageNumber   *int   `gorm:"column:page_number" json:"page_number,omitempty"`
	ChunkIndex   *int   `gorm:"column:chunk_index" json:"chunk_index,omitempty"`

	// MasteryLevel is always kept inside [0,1].
	MasteryLevel float64 `gorm:"column:mastery_level;not null;default:0" json:"mastery_level"`
	AttemptCount int     `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	CorrectCount int     `gorm:"column:correct_count;not null;default:0" json:"correct_count"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Keypoint) TableName() string { return "keypoints" }
