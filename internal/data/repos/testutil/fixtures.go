package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/studypath-backend/internal/types"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: "A",
		LastName:  "B",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedKnowledgeBase(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *types.KnowledgeBase {
	tb.Helper()
	kb := &types.KnowledgeBase{
		ID:     uuid.New(),
		UserID: userID,
		Title:  "kb",
	}
	if err := tx.WithContext(ctx).Create(kb).Error; err != nil {
		tb.Fatalf("seed knowledge base: %v", err)
	}
	return kb
}

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, kbID uuid.UUID, name string) *types.Document {
	tb.Helper()
	d := &types.Document{
		ID:              uuid.New(),
		KnowledgeBaseID: kbID,
		Name:            name,
		Status:          "processed",
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func SeedKeypoint(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, kbID, docID uuid.UUID, text string, createdAt time.Time) *types.Keypoint {
	tb.Helper()
	kp := &types.Keypoint{
		ID:              uuid.New(),
		UserID:          userID,
		KnowledgeBaseID: kbID,
		DocumentID:      docID,
		Text:            text,
		DocumentName:    "doc",
		CreatedAt:       createdAt,
	}
	if err := tx.WithContext(ctx).Create(kp).Error; err != nil {
		tb.Fatalf("seed keypoint: %v", err)
	}
	return kp
}
