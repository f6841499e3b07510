package types

import (
	"time"

	"github.com/google/uuid"
)

// PrerequisiteEdge is a directed relation "from must be understood before
// to", scoped to one knowledge base. The per-kb edge set always forms a
// DAG; edges are only ever written as a full replacement by the graph
// builder, never one at a time.
type PrerequisiteEdge struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	KnowledgeBaseID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_prereq_edge_pair,unique,priority:1" json:"knowledge_base_id"`
	FromKeypointID  uuid.UUID `gorm:"type:uuid;not null;index:idx_prereq_edge_pair,unique,priority:2" json:"from_keypoint_id"`
	ToKeypointID    uuid.UUID `gorm:"type:uuid;not null;index:idx_prereq_edge_pair,unique,priority:3" json:"to_keypoint_id"`
	Relation        string    `gorm:"column:relation;not null;default:'prerequisite'" json:"relation"`
	Confidence      float64   `gorm:"column:confidence;not null;default:1" json:"confidence"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (PrerequisiteEdge) TableName() string { return "prerequisite_edges" }
