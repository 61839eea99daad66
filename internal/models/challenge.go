// backend/internal/models/challenge.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Challenge is one issued multiple-choice question. Rows are append-only.
type Challenge struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Difficulty      string         `json:"difficulty" gorm:"not null"`
	DateCreated     time.Time      `json:"date_created" gorm:"not null"`
	CreatedBy       string         `json:"created_by" gorm:"not null;index"`
	Title           string         `json:"title" gorm:"not null"`
	Description     *string        `json:"description"`
	CodeSnippet     *string        `json:"code_snippet"`
	Options         datatypes.JSON `json:"options" gorm:"not null"` // JSON array of strings
	CorrectAnswerID int            `json:"correct_answer_id" gorm:"not null"`
	Explanation     string         `json:"explanation" gorm:"not null"`
}

func (Challenge) TableName() string {
	return "challenges"
}

// ChallengeQuota is the per-user issuance counter. Exactly one row per user.
type ChallengeQuota struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"not null;uniqueIndex"`
	RemainingQuota int       `json:"remaining_quota" gorm:"not null"`
	LastResetDate  time.Time `json:"last_reset_date"`
}

func (ChallengeQuota) TableName() string {
	return "challenge_quota"
}
