// backend/internal/quota/repository.go
package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"challenge-system/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("quota not found")
	ErrDuplicateKey = errors.New("quota already exists for user")
	ErrExhausted    = errors.New("quota exhausted")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Get(ctx context.Context, userID string) (*models.ChallengeQuota, error) {
	var quota models.ChallengeQuota
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// GetForUpdate is Get with a row lock held until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, userID string) (*models.ChallengeQuota, error) {
	var quota models.ChallengeQuota
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// Create inserts the initial grant for userID. ErrDuplicateKey means another
// writer got there first and the caller should re-read.
func (r *Repository) Create(ctx context.Context, userID string, now time.Time) (*models.ChallengeQuota, error) {
	quota := &models.ChallengeQuota{
		UserID:         userID,
		RemainingQuota: InitialGrant,
		LastResetDate:  now,
	}
	if err := r.db.WithContext(ctx).Create(quota).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return quota, nil
}

func (r *Repository) Save(ctx context.Context, quota *models.ChallengeQuota) error {
	return r.db.WithContext(ctx).
		Model(&models.ChallengeQuota{}).
		Where("id = ?", quota.ID).
		Updates(map[string]interface{}{
			"remaining_quota": quota.RemainingQuota,
			"last_reset_date": quota.LastResetDate,
		}).Error
}

// ApplyResetIfDue runs the reset policy and persists the record when it changed.
func (r *Repository) ApplyResetIfDue(ctx context.Context, quota *models.ChallengeQuota, now time.Time) (*models.ChallengeQuota, error) {
	if !ApplyReset(quota, now) {
		return quota, nil
	}
	if err := r.Save(ctx, quota); err != nil {
		return nil, err
	}
	return quota, nil
}

// Decrement charges one unit. The store never goes below zero: the update is
// conditional and ErrExhausted is returned when nothing was left to charge.
func (r *Repository) Decrement(ctx context.Context, quota *models.ChallengeQuota) error {
	if quota.RemainingQuota <= 0 {
		return ErrExhausted
	}

	result := r.db.WithContext(ctx).
		Model(&models.ChallengeQuota{}).
		Where("id = ? AND remaining_quota > 0", quota.ID).
		Update("remaining_quota", gorm.Expr("remaining_quota - 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrExhausted
	}

	quota.RemainingQuota--
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key")
}
