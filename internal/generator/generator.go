package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"challenge-system/internal/models"
	"challenge-system/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout  = 20 * time.Second
	requiredOptions = 4
)

// Model is the external generative model. It returns the raw text of a JSON reply.
type Model interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Failure reasons, also used as metric labels.
const (
	ReasonUnavailable = "unavailable"
	ReasonTimeout     = "timeout"
	ReasonRequest     = "request"
	ReasonMalformed   = "malformed"
	ReasonInvalid     = "invalid"
	ReasonPanic       = "panic"
)

// GenerationError is why a generation attempt produced no usable payload.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation " + e.Reason
	}
	return fmt.Sprintf("generation %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Generator struct {
	model   Model
	timeout time.Duration
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewGenerator(model Model, timeout time.Duration, log *logrus.Logger, m *metrics.Metrics) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{
		model:   model,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Generate always returns a usable payload: any failure of the model is logged
// and answered with Fallback.
func (g *Generator) Generate(ctx context.Context, difficulty string) models.ChallengePayload {
	payload, err := g.TryGenerate(ctx, difficulty)
	if err == nil {
		return payload
	}

	reason := ReasonRequest
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		reason = genErr.Reason
	}

	g.log.WithError(err).WithFields(logrus.Fields{
		"difficulty": difficulty,
		"reason":     reason,
	}).Warn("challenge generation failed, serving fallback")
	if g.metrics != nil {
		g.metrics.GeneratorFallbacks.WithLabelValues(reason).Inc()
	}

	return Fallback()
}

type modelResult struct {
	raw string
	err error
}

// TryGenerate asks the model for one challenge and validates the reply.
func (g *Generator) TryGenerate(ctx context.Context, difficulty string) (models.ChallengePayload, error) {
	if g.model == nil {
		return models.ChallengePayload{}, &GenerationError{Reason: ReasonUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// The call runs on its own goroutine so a model that ignores ctx cannot hold the request open.
	results := make(chan modelResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- modelResult{err: &GenerationError{Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}}
			}
		}()
		raw, err := g.model.GenerateJSON(ctx, systemPrompt, userPrompt(difficulty))
		results <- modelResult{raw: raw, err: err}
	}()

	var res modelResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return models.ChallengePayload{}, &GenerationError{Reason: ReasonTimeout, Err: ctx.Err()}
	}

	if res.err != nil {
		var genErr *GenerationError
		if errors.As(res.err, &genErr) {
			return models.ChallengePayload{}, genErr
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return models.ChallengePayload{}, &GenerationError{Reason: ReasonTimeout, Err: res.err}
		}
		return models.ChallengePayload{}, &GenerationError{Reason: ReasonRequest, Err: res.err}
	}

	var payload models.ChallengePayload
	if err := json.Unmarshal([]byte(cleanJSONContent(res.raw)), &payload); err != nil {
		return models.ChallengePayload{}, &GenerationError{Reason: ReasonMalformed, Err: err}
	}

	if err := payload.Validate(); err != nil {
		return models.ChallengePayload{}, &GenerationError{Reason: ReasonInvalid, Err: err}
	}
	if len(payload.Options) != requiredOptions {
		return models.ChallengePayload{}, &GenerationError{
			Reason: ReasonInvalid,
			Err:    fmt.Errorf("expected %d options, got %d", requiredOptions, len(payload.Options)),
		}
	}

	return payload, nil
}

// Fallback is the canned challenge served whenever generation fails.
func Fallback() models.ChallengePayload {
	correct := 0
	return models.ChallengePayload{
		Title: "Basic Python List Operation",
		Options: []string{
			"my_list.append(5)",
			"my_list.add(5)",
			"my_list.push(5)",
			"my_list.insert(5)",
		},
		CorrectAnswerID: &correct,
		Explanation:     "In Python, append() is the correct method to add an element to the end of a list.",
	}
}
