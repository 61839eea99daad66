// backend/internal/challenge/repository.go
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"challenge-system/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create validates payload and stores it as a challenge issued to createdBy.
// Validation failures wrap models.ErrInvalidPayload and write nothing.
func (r *Repository) Create(ctx context.Context, difficulty, createdBy string, payload models.ChallengePayload, now time.Time) (*models.Challenge, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	options, err := json.Marshal(payload.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}

	challenge := &models.Challenge{
		Difficulty:      difficulty,
		DateCreated:     now,
		CreatedBy:       createdBy,
		Title:           payload.Title,
		Description:     payload.Description,
		CodeSnippet:     payload.CodeSnippet,
		Options:         datatypes.JSON(options),
		CorrectAnswerID: *payload.CorrectAnswerID,
		Explanation:     payload.Explanation,
	}
	if err := r.db.WithContext(ctx).Create(challenge).Error; err != nil {
		return nil, err
	}
	return challenge, nil
}

// ListByUser returns the challenges issued to userID, oldest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := r.db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("id asc").
		Find(&challenges).Error
	if err != nil {
		return nil, err
	}
	return challenges, nil
}
