// backend/internal/models/dto.go
package models

import (
	"encoding/json"
	"time"
)

// ChallengePayload is the generated content of a challenge, before it is attributed and stored.
type ChallengePayload struct {
	Title           string   `json:"title" validate:"required"`
	Description     *string  `json:"description"`
	CodeSnippet     *string  `json:"code_snippet"`
	Options         []string `json:"options" validate:"required,min=1"`
	CorrectAnswerID *int     `json:"correct_answer_id" validate:"required"`
	Explanation     string   `json:"explanation" validate:"required"`
}

type ChallengeDTO struct {
	ID              uint      `json:"id"`
	Difficulty      string    `json:"difficulty"`
	CreatedBy       string    `json:"created_by"`
	Title           string    `json:"title"`
	Description     *string   `json:"description"`
	CodeSnippet     *string   `json:"code_snippet"`
	Options         []string  `json:"options"`
	CorrectAnswerID int       `json:"correct_answer_id"`
	Explanation     string    `json:"explanation"`
	Timestamp       time.Time `json:"timestamp"`
}

type QuotaDTO struct {
	UserID         string    `json:"user_id"`
	RemainingQuota int       `json:"remaining_quota"`
	LastResetDate  time.Time `json:"last_reset_date"`
	NextResetAt    time.Time `json:"next_reset_at"`
}

func (c Challenge) ToDTO() (ChallengeDTO, error) {
	var options []string
	if len(c.Options) > 0 {
		if err := json.Unmarshal(c.Options, &options); err != nil {
			return ChallengeDTO{}, err
		}
	}

	return ChallengeDTO{
		ID:              c.ID,
		Difficulty:      c.Difficulty,
		CreatedBy:       c.CreatedBy,
		Title:           c.Title,
		Description:     c.Description,
		CodeSnippet:     c.CodeSnippet,
		Options:         options,
		CorrectAnswerID: c.CorrectAnswerID,
		Explanation:     c.Explanation,
		Timestamp:       c.DateCreated,
	}, nil
}

// ToDTO reports the quota together with the moment the next reset becomes due.
func (q ChallengeQuota) ToDTO(window time.Duration) QuotaDTO {
	return QuotaDTO{
		UserID:         q.UserID,
		RemainingQuota: q.RemainingQuota,
		LastResetDate:  q.LastResetDate,
		NextResetAt:    q.LastResetDate.Add(window),
	}
}
