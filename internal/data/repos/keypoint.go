package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/types"
)

type KeypointRepo interface {
	Create(dbc dbctx.Context, rows []*types.Keypoint) ([]*types.Keypoint, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Keypoint, error)
	// GetByUserAndKB returns the kb's keypoints in (created_at, id) order so
	// callers see a stable enumeration across calls.
	GetByUserAndKB(dbc dbctx.Context, userID, kbID uuid.UUID) ([]*types.Keypoint, error)
	GetByUserKBAndDocument(dbc dbctx.Context, userID, kbID, documentID uuid.UUID) ([]*types.Keypoint, error)
	// LockByID takes a row lock so concurrent mastery updates serialize.
	// Only meaningful inside a transaction.
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error)
	UpdateMasteryFields(dbc dbctx.Context, id uuid.UUID, masteryLevel float64, attemptCount, correctCount int) error
}

type keypointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKeypointRepo(db *gorm.DB, baseLog *logger.Logger) KeypointRepo {
	return &keypointRepo{db: db, log: baseLog.With("repo", "KeypointRepo")}
}

func (r *keypointRepo) Create(dbc dbctx.Context, rows []*types.Keypoint) ([]*types.Keypoint, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*types.Keypoint{}, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *keypointRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Keypoint
	if err := t.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *keypointRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Keypoint, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Keypoint
	if len(ids) == 0 {
		return rows, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *keypointRepo) GetByUserAndKB(dbc dbctx.Context, userID, kbID uuid.UUID) ([]*types.Keypoint, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Keypoint
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND knowledge_base_id = ?", userID, kbID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *keypointRepo) GetByUserKBAndDocument(dbc dbctx.Context, userID, kbID, documentID uuid.UUID) ([]*types.Keypoint, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Keypoint
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND knowledge_base_id = ? AND document_id = ?", userID, kbID, documentID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *keypointRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Keypoint, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []*types.Keypoint
	if err := t.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *keypointRepo) UpdateMasteryFields(dbc dbctx.Context, id uuid.UUID, masteryLevel float64, attemptCount, correctCount int) error {
	if id == uuid.Nil {
		return nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.Keypoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"mastery_level": masteryLevel,
			"attempt_count": attemptCount,
			"correct_count": correctCount,
		}).Error
}
