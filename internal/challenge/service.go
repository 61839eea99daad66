// backend/internal/challenge/service.go
package challenge

import (
	"context"
	"errors"

	"challenge-system/internal/apperr"
	"challenge-system/internal/models"
	"challenge-system/internal/quota"
	"challenge-system/pkg/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Generator produces challenge content. It never fails: problems are answered
// with a fallback payload.
type Generator interface {
	Generate(ctx context.Context, difficulty string) models.ChallengePayload
}

type HistoryCache interface {
	GetHistory(ctx context.Context, userID string) ([]models.ChallengeDTO, bool, error)
	SetHistory(ctx context.Context, userID string, history []models.ChallengeDTO) error
	InvalidateHistory(ctx context.Context, userID string) error
}

type Notifier interface {
	SendToUser(userID string, msgType string, data interface{})
}

const (
	EventChallengeIssued = "challenge_issued"
	EventQuotaUpdated    = "quota_updated"
)

type Service struct {
	db        *gorm.DB
	repo      *Repository
	quotas    *quota.Service
	quotaRepo *quota.Repository
	generator Generator
	cache     HistoryCache
	notifier  Notifier
	log       *logrus.Logger
	metrics   *metrics.Metrics
}

func NewService(db *gorm.DB, repo *Repository, quotas *quota.Service, quotaRepo *quota.Repository,
	generator Generator, log *logrus.Logger, m *metrics.Metrics) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		quotas:    quotas,
		quotaRepo: quotaRepo,
		generator: generator,
		log:       log,
		metrics:   m,
	}
}

func (s *Service) SetCache(cache HistoryCache) {
	s.cache = cache
}

func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Issue generates a challenge for userID and charges one unit of quota. The quota
// row is locked for the whole sequence and the challenge insert and the charge
// commit together or not at all.
func (s *Service) Issue(ctx context.Context, userID, difficulty string) (*models.ChallengeDTO, error) {
	var (
		issued  *models.Challenge
		balance *models.ChallengeQuota
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.quotas.Resolve(ctx, tx, userID)
		if err != nil {
			return err
		}
		if q.RemainingQuota <= 0 {
			return apperr.QuotaExhausted("Quota exhausted")
		}

		payload := s.generator.Generate(ctx, difficulty)

		challenge, err := s.repo.WithTx(tx).Create(ctx, difficulty, userID, payload, s.quotas.Now())
		if err != nil {
			if errors.Is(err, models.ErrInvalidPayload) {
				return apperr.Validation(err.Error(), err)
			}
			return err
		}

		if err := s.quotaRepo.WithTx(tx).Decrement(ctx, q); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				return apperr.QuotaExhausted("Quota exhausted")
			}
			return err
		}

		issued, balance = challenge, q
		return nil
	})
	if err != nil {
		entry := s.log.WithFields(logrus.Fields{"user_id": userID, "difficulty": difficulty})
		switch apperr.KindOf(err) {
		case apperr.KindQuotaExhausted:
			s.metrics.QuotaExhausted.Inc()
			entry.Info("challenge rejected, quota exhausted")
			return nil, err
		case apperr.KindValidation:
			entry.WithError(err).Warn("generated challenge rejected")
			return nil, err
		default:
			return nil, apperr.Internal(err)
		}
	}

	dto, err := issued.ToDTO()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.metrics.ChallengesIssued.WithLabelValues(difficulty).Inc()
	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"challenge_id":    issued.ID,
		"difficulty":      difficulty,
		"remaining_quota": balance.RemainingQuota,
	}).Info("challenge issued")

	s.afterCommit(ctx, userID, dto, balance)
	return &dto, nil
}

// afterCommit runs the best-effort side effects of an issuance.
func (s *Service) afterCommit(ctx context.Context, userID string, dto models.ChallengeDTO, balance *models.ChallengeQuota) {
	if s.cache != nil {
		if err := s.cache.InvalidateHistory(ctx, userID); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("failed to invalidate history cache")
		}
	}
	if s.notifier != nil {
		s.notifier.SendToUser(userID, EventChallengeIssued, dto)
		s.notifier.SendToUser(userID, EventQuotaUpdated, balance.ToDTO(quota.ResetWindow))
	}
}

// History returns every challenge issued to userID, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]models.ChallengeDTO, error) {
	if s.cache != nil {
		cached, found, err := s.cache.GetHistory(ctx, userID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("history cache read failed")
		} else if found {
			return cached, nil
		}
	}

	challenges, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	history := make([]models.ChallengeDTO, 0, len(challenges))
	for _, c := range challenges {
		dto, err := c.ToDTO()
		if err != nil {
			return nil, apperr.Internal(err)
		}
		history = append(history, dto)
	}

	if s.cache != nil {
		if err := s.cache.SetHistory(ctx, userID, history); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("history cache write failed")
		}
	}
	return history, nil
}

// QuotaStatus reports the quota of userID after the reset policy ran.
func (s *Service) QuotaStatus(ctx context.Context, userID string) (*models.QuotaDTO, error) {
	q, err := s.quotas.Status(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	dto := q.ToDTO(quota.ResetWindow)
	return &dto, nil
}
