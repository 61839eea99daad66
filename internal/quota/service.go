// backend/internal/quota/service.go
package quota

import (
	"context"
	"errors"
	"time"

	"challenge-system/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	repo *Repository
	log  *logrus.Logger
	now  func() time.Time
}

func NewService(db *gorm.DB, repo *Repository, log *logrus.Logger) *Service {
	return &Service{
		db:   db,
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for creation and reset decisions.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Now() time.Time {
	return s.now()
}

// Resolve loads userID's quota inside tx, creating the initial grant on a miss
// and applying the reset policy. The row stays locked until tx ends.
func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, userID string) (*models.ChallengeQuota, error) {
	repo := s.repo.WithTx(tx)

	quota, err := repo.GetForUpdate(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		// The insert runs under a savepoint so that losing a creation race leaves
		// the outer transaction usable for the re-read.
		err = tx.Transaction(func(sp *gorm.DB) error {
			created, createErr := s.repo.WithTx(sp).Create(ctx, userID, s.now())
			quota = created
			return createErr
		})
		if errors.Is(err, ErrDuplicateKey) {
			s.log.WithField("user_id", userID).Debug("quota created concurrently, re-reading")
			quota, err = repo.GetForUpdate(ctx, userID)
		} else if err == nil {
			s.log.WithField("user_id", userID).Info("quota created on first use")
		}
	}
	if err != nil {
		return nil, err
	}

	return repo.ApplyResetIfDue(ctx, quota, s.now())
}

// Status returns the current quota of userID after the reset policy ran,
// provisioning a record for users never seen before.
func (s *Service) Status(ctx context.Context, userID string) (*models.ChallengeQuota, error) {
	var quota *models.ChallengeQuota
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quota, err = s.Resolve(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quota, nil
}

// Provision creates the initial quota for a newly signed-up user. It reports
// false, without error, when the user already has one.
func (s *Service) Provision(ctx context.Context, userID string) (bool, error) {
	_, err := s.repo.Get(ctx, userID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if _, err := s.repo.Create(ctx, userID, s.now()); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}

	s.log.WithField("user_id", userID).Info("quota provisioned")
	return true, nil
}
