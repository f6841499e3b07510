package services

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/data/db"
	"github.com/yungbote/studypath-backend/internal/data/repos"
	"github.com/yungbote/studypath-backend/internal/pkg/cache"
	"github.com/yungbote/studypath-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
	"github.com/yungbote/studypath-backend/internal/pkg/logger"
)

// Priority buckets assigned to a keypoint from its mastery level.
const (
	PriorityCompleted = "completed"
	PriorityHigh      = "high"
	PriorityMedium    = "medium"
	PriorityLow       = "low"
)

// Recommended next actions for a keypoint.
const (
	ActionReview = "review"
	ActionStudy  = "study"
	ActionQuiz   = "quiz"
)

// MasteryPolicy collects the empirical mastery constants. The values carry
// over from production tuning; override individual fields only with data
// to back it up.
type MasteryPolicy struct {
	// EMA smoothing factors.
	QuizAlpha  float64
	StudyAlpha float64

	// Level thresholds.
	MasteredThreshold   float64
	WeakThreshold       float64
	MediumThreshold     float64
	PrereqGateThreshold float64
}

func DefaultMasteryPolicy() MasteryPolicy {
	return MasteryPolicy{
		QuizAlpha:           0.15,
		StudyAlpha:          0.10,
		MasteredThreshold:   0.8,
		WeakThreshold:       0.3,
		MediumThreshold:     0.7,
		PrereqGateThreshold: 0.6,
	}
}

// Normalize clamps any input into [0,1]. NaN maps to 0.
func (p MasteryPolicy) Normalize(level float64) float64 {
	if math.IsNaN(level) {
		return 0
	}
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

func (p MasteryPolicy) IsMastered(level float64) bool {
	return p.Normalize(level) >= p.MasteredThreshold
}

func (p MasteryPolicy) IsWeak(level float64) bool {
	return p.Normalize(level) < p.WeakThreshold
}

func (p MasteryPolicy) PriorityBucket(level float64) string {
	l := p.Normalize(level)
	switch {
	case l >= p.MasteredThreshold:
		return PriorityCompleted
	case l < p.WeakThreshold:
		return PriorityHigh
	case l < p.MediumThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func (p MasteryPolicy) RecommendedAction(level float64, attemptCount int) string {
	if p.IsMastered(level) {
		return ActionReview
	}
	if attemptCount == 0 {
		return ActionStudy
	}
	return ActionQuiz
}

// QuizUpdate evolves a level by one quiz outcome: EMA toward 1.0 on a
// correct answer, toward 0.0 otherwise.
func (p MasteryPolicy) QuizUpdate(old float64, correct bool) float64 {
	signal := 0.0
	if correct {
		signal = 1.0
	}
	old = p.Normalize(old)
	return p.Normalize(p.QuizAlpha*signal + (1-p.QuizAlpha)*old)
}

// StudyUpdate evolves a level by one study interaction. Already-mastered
// levels are returned unchanged so repeated study cannot over-reinforce.
func (p MasteryPolicy) StudyUpdate(old float64) float64 {
	old = p.Normalize(old)
	if old >= p.MasteredThreshold {
		return old
	}
	return p.Normalize(p.StudyAlpha*1.0 + (1-p.StudyAlpha)*old)
}

// MasteryRatio is the fraction of levels at or above threshold.
func MasteryRatio(levels []float64, threshold float64) float64 {
	if len(levels) == 0 {
		return 0
	}
	n := 0
	for _, l := range levels {
		if l >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(levels))
}

func MasteryAverage(levels []float64) float64 {
	if len(levels) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range levels {
		sum += l
	}
	return sum / float64(len(levels))
}

// MasteryTransition reports one applied state transition.
type MasteryTransition struct {
	KeypointID   uuid.UUID `json:"keypoint_id"`
	OldLevel     float64   `json:"old_level"`
	NewLevel     float64   `json:"new_level"`
	AttemptCount int       `json:"attempt_count"`
	CorrectCount int       `json:"correct_count"`
}

// MasterySummary aggregates a kb's mastery snapshot.
type MasterySummary struct {
	KeypointCount   int     `json:"keypoint_count"`
	AverageLevel    float64 `json:"average_level"`
	StableRatio     float64 `json:"stable_ratio"`
	CompletionRatio float64 `json:"completion_ratio"`
}

type MasteryService interface {
	RecordQuizResult(ctx context.Context, keypointID uuid.UUID, correct bool) (*MasteryTransition, error)
	RecordStudyInteraction(ctx context.Context, keypointID uuid.UUID) (*MasteryTransition, error)
	KBMasterySummary(ctx context.Context, userID, kbID uuid.UUID) (*MasterySummary, error)
}

type masteryService struct {
	tx        db.TxRunner
	log       *logger.Logger
	keypoints repos.KeypointRepo
	cache     cache.Cache
	policy    MasteryPolicy
}

func NewMasteryService(tx db.TxRunner, baseLog *logger.Logger, keypoints repos.KeypointRepo, resultCache cache.Cache, policy MasteryPolicy) MasteryService {
	return &masteryService{
		tx:        tx,
		log:       baseLog.With("service", "MasteryService"),
		keypoints: keypoints,
		cache:     resultCache,
		policy:    policy,
	}
}

func (s *masteryService) RecordQuizResult(ctx context.Context, keypointID uuid.UUID, correct bool) (*MasteryTransition, error) {
	return s.record(ctx, keypointID, func(old float64) (float64, bool) {
		return s.policy.QuizUpdate(old, correct), true
	}, correct)
}

func (s *masteryService) RecordStudyInteraction(ctx context.Context, keypointID uuid.UUID) (*MasteryTransition, error) {
	return s.record(ctx, keypointID, func(old float64) (float64, bool) {
		if s.policy.IsMastered(old) {
			return s.policy.Normalize(old), false
		}
		return s.policy.StudyUpdate(old), false
	}, false)
}

// record runs one serialized read-modify-write on a keypoint's mastery
// fields. countAttempt controls whether the attempt/correct counters move.
func (s *masteryService) record(ctx context.Context, keypointID uuid.UUID, next func(old float64) (float64, bool), correct bool) (*MasteryTransition, error) {
	if keypointID == uuid.Nil {
		return nil, fmt.Errorf("keypoint id: %w", apperrors.ErrInvalidArgument)
	}

	var out MasteryTransition
	var kbID uuid.UUID
	var bucketChanged bool

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		row, err := s.keypoints.LockByID(dbc, keypointID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("keypoint %s: %w", keypointID, apperrors.ErrNotFound)
		}

		old := s.policy.Normalize(row.MasteryLevel)
		newLevel, countAttempt := next(old)

		attempts := row.AttemptCount
		corrects := row.CorrectCount
		if countAttempt {
			attempts++
			if correct {
				corrects++
			}
		}

		if err := s.keypoints.UpdateMasteryFields(dbc, row.ID, newLevel, attempts, corrects); err != nil {
			return err
		}

		kbID = row.KnowledgeBaseID
		bucketChanged = s.policy.PriorityBucket(old) != s.policy.PriorityBucket(newLevel)
		out = MasteryTransition{
			KeypointID:   row.ID,
			OldLevel:     old,
			NewLevel:     newLevel,
			AttemptCount: attempts,
			CorrectCount: corrects,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A bucket move changes the generated path's annotations, so the kb's
	// cached path is stale.
	if bucketChanged && s.cache != nil {
		if err := s.cache.Delete(ctx, pathCacheKey(kbID)); err != nil {
			s.log.Warn("path cache invalidation failed", "kb_id", kbID, "error", err)
		}
	}

	return &out, nil
}

func (s *masteryService) KBMasterySummary(ctx context.Context, userID, kbID uuid.UUID) (*MasterySummary, error) {
	rows, err := s.keypoints.GetByUserAndKB(dbctx.Context{Ctx: ctx}, userID, kbID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, apperrors.ErrNotFound)
	}

	levels := make([]float64, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, s.policy.Normalize(r.MasteryLevel))
	}
	return &MasterySummary{
		KeypointCount:   len(rows),
		AverageLevel:    MasteryAverage(levels),
		StableRatio:     MasteryRatio(levels, s.policy.MediumThreshold),
		CompletionRatio: MasteryRatio(levels, s.policy.MasteredThreshold),
	}, nil
}
