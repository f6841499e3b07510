package repos

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/types"
)

type PrerequisiteEdgeRepo interface {
	Create(dbc dbctx.Context, rows []*types.PrerequisiteEdge) ([]*types.PrerequisiteEdge, error)
	// GetByKBID returns the kb's edges in a stable (from, to) order.
	GetByKBID(dbc dbctx.Context, kbID uuid.UUID) ([]*types.PrerequisiteEdge, error)
	CountByKBID(dbc dbctx.Context, kbID uuid.UUID) (int64, error)
	DeleteByKBID(dbc dbctx.Context, kbID uuid.UUID) error
	// ReplaceForKB swaps the kb's edge set for rows. Callers must run it
	// inside a transaction so readers never observe a partial set.
	ReplaceForKB(dbc dbctx.Context, kbID uuid.UUID, rows []*types.PrerequisiteEdge) error
}

type prerequisiteEdgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPrerequisiteEdgeRepo(db *gorm.DB, baseLog *logger.Logger) PrerequisiteEdgeRepo {
	return &prerequisiteEdgeRepo{db: db, log: baseLog.With("repo", "PrerequisiteEdgeRepo")}
}

func (r *prerequisiteEdgeRepo) Create(dbc dbctx.Context, rows []*types.PrerequisiteEdge) ([]*types.PrerequisiteEdge, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*types.PrerequisiteEdge{}, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *prerequisiteEdgeRepo) GetByKBID(dbc dbctx.Context, kbID uuid.UUID) ([]*types.PrerequisiteEdge, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.PrerequisiteEdge
	if kbID == uuid.Nil {
		return rows, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("from_keypoint_id ASC, to_keypoint_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *prerequisiteEdgeRepo) CountByKBID(dbc dbctx.Context, kbID uuid.UUID) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if kbID == uuid.Nil {
		return 0, nil
	}
	var n int64
	if err := t.WithContext(dbc.Ctx).
		Model(&types.PrerequisiteEdge{}).
		Where("knowledge_base_id = ?", kbID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *prerequisiteEdgeRepo) DeleteByKBID(dbc dbctx.Context, kbID uuid.UUID) error {
	if kbID == uuid.Nil {
		return nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Where("knowledge_base_id = ?", kbID).
		Delete(&types.PrerequisiteEdge{}).Error
}

func (r *prerequisiteEdgeRepo) ReplaceForKB(dbc dbctx.Context, kbID uuid.UUID, rows []*types.PrerequisiteEdge) error {
	if kbID == uuid.Nil {
		return nil
	}
	if err := r.DeleteByKBID(dbc, kbID); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := r.Create(dbc, rows)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			if strings.TrimSpace(constraint) == "" {
				return true
			}
			return strings.EqualFold(strings.TrimSpace(pgErr.ConstraintName), strings.TrimSpace(constraint))
		}
	}

	// Fallback: string match (covers wrapped errors that lose type info).
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "sqlstate 23505") {
		if strings.TrimSpace(constraint) == "" {
			return true
		}
		return strings.Contains(msg, strings.ToLower(strings.TrimSpace(constraint)))
	}
	return false
}
