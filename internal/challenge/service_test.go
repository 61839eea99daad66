package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"challenge-system/internal/apperr"
	"challenge-system/internal/generator"
	"challenge-system/internal/models"
	"challenge-system/internal/quota"
	"challenge-system/pkg/database"
	"challenge-system/pkg/logger"
	"challenge-system/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(difficulty string) models.ChallengePayload
}

func (g *fakeGenerator) Generate(ctx context.Context, difficulty string) models.ChallengePayload {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.generate != nil {
		return g.generate(difficulty)
	}
	return samplePayload("Sample " + difficulty)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func samplePayload(title string) models.ChallengePayload {
	answer := 2
	snippet := "print(len([1, 2, 3]))"
	return models.ChallengePayload{
		Title:           title,
		CodeSnippet:     &snippet,
		Options:         []string{"1", "2", "3", "4"},
		CorrectAnswerID: &answer,
		Explanation:     "len counts the items of the list.",
	}
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]models.ChallengeDTO
	invalidated []string
	getErr      error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]models.ChallengeDTO{}}
}

func (c *memoryCache) GetHistory(ctx context.Context, userID string) ([]models.ChallengeDTO, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	h, ok := c.entries[userID]
	return h, ok, nil
}

func (c *memoryCache) SetHistory(ctx context.Context, userID string, history []models.ChallengeDTO) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = history
	return nil
}

func (c *memoryCache) InvalidateHistory(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type sentMessage struct {
	userID string
	kind   string
	data   interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) SendToUser(userID string, msgType string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{userID: userID, kind: msgType, data: data})
}

type testEnv struct {
	db        *gorm.DB
	service   *Service
	generator *fakeGenerator
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	log := logger.Discard()
	m := metrics.New()
	quotaRepo := quota.NewRepository(db)
	quotas := quota.NewService(db, quotaRepo, log)
	quotas.SetClock(func() time.Time { return testNow })

	gen := &fakeGenerator{}
	svc := NewService(db, NewRepository(db), quotas, quotaRepo, gen, log, m)

	return &testEnv{db: db, service: svc, generator: gen, metrics: m}
}

func (e *testEnv) seedQuota(t *testing.T, userID string, remaining int) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.ChallengeQuota{
		UserID:         userID,
		RemainingQuota: remaining,
		LastResetDate:  testNow.Add(-time.Hour),
	}).Error)
}

func (e *testEnv) remaining(t *testing.T, userID string) int {
	t.Helper()
	var q models.ChallengeQuota
	require.NoError(t, e.db.Where("user_id = ?", userID).First(&q).Error)
	return q.RemainingQuota
}

func (e *testEnv) challengeCount(t *testing.T, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Challenge{}).Where("created_by = ?", userID).Count(&count).Error)
	return count
}

func TestIssue_FirstRequestProvisionsAndCharges(t *testing.T) {
	env := newTestEnv(t)

	dto, err := env.service.Issue(context.Background(), "user_1", "easy")
	require.NoError(t, err)

	assert.NotZero(t, dto.ID)
	assert.Equal(t, "easy", dto.Difficulty)
	assert.Equal(t, "user_1", dto.CreatedBy)
	assert.Equal(t, "Sample easy", dto.Title)
	assert.Equal(t, []string{"1", "2", "3", "4"}, dto.Options)
	assert.Equal(t, 2, dto.CorrectAnswerID)
	assert.True(t, dto.Timestamp.Equal(testNow))

	assert.Equal(t, quota.InitialGrant-1, env.remaining(t, "user_1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChallengesIssued.WithLabelValues("easy")))
}

func TestIssue_QuotaExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuota(t, "user_1", 0)

	_, err := env.service.Issue(context.Background(), "user_1", "medium")
	require.Error(t, err)
	assert.Equal(t, apperr.KindQuotaExhausted, apperr.KindOf(err))

	assert.Zero(t, env.generator.Calls(), "no generation once quota is exhausted")
	assert.Zero(t, env.challengeCount(t, "user_1"))
	assert.Equal(t, 0, env.remaining(t, "user_1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.QuotaExhausted))
}

func TestIssue_ResetBeforeCheck(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.ChallengeQuota{
		UserID:         "user_1",
		RemainingQuota: 0,
		LastResetDate:  testNow.Add(-24*time.Hour - time.Second),
	}).Error)

	_, err := env.service.Issue(context.Background(), "user_1", "hard")
	require.NoError(t, err)
	assert.Equal(t, quota.DailyGrant-1, env.remaining(t, "user_1"))
}

func TestIssue_AtomicOnPersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuota(t, "user_1", 5)

	// Fail the quota charge after the challenge row was inserted.
	injected := errors.New("injected failure")
	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_quota_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "challenge_quota" {
			tx.AddError(injected)
		}
	}))

	_, err := env.service.Issue(context.Background(), "user_1", "easy")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.ErrorIs(t, err, injected)

	assert.Equal(t, 1, env.generator.Calls())
	assert.Zero(t, env.challengeCount(t, "user_1"), "challenge must be rolled back")
	assert.Equal(t, 5, env.remaining(t, "user_1"), "quota must be unchanged")
}

func TestIssue_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuota(t, "user_1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.Issue(context.Background(), "user_1", "easy")
		}(i)
	}
	wg.Wait()

	var succeeded, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindQuotaExhausted:
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, 0, env.remaining(t, "user_1"))
	assert.Equal(t, int64(1), env.challengeCount(t, "user_1"))
}

func TestIssue_InvalidPayloadIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuota(t, "user_1", 3)
	env.generator.generate = func(string) models.ChallengePayload {
		p := samplePayload("No answer")
		p.CorrectAnswerID = nil
		return p
	}

	_, err := env.service.Issue(context.Background(), "user_1", "easy")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, apperr.ResponseFor(err).Detail, "correct_answer_id")

	assert.Zero(t, env.challengeCount(t, "user_1"))
	assert.Equal(t, 3, env.remaining(t, "user_1"))
}

func TestIssue_GeneratorPanicRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuota(t, "user_1", 3)
	env.generator.generate = func(string) models.ChallengePayload {
		panic("adapter exploded")
	}

	assert.Panics(t, func() {
		_, _ = env.service.Issue(context.Background(), "user_1", "easy")
	})
	assert.Zero(t, env.challengeCount(t, "user_1"))
	assert.Equal(t, 3, env.remaining(t, "user_1"))
}

type failingModel struct{}

func (failingModel) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("connection refused")
}

type missingExplanationModel struct{}

func (missingExplanationModel) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return `{"title":"T","options":["a","b","c","d"],"correct_answer_id":1}`, nil
}

func TestIssue_GeneratorFallbackSucceeds(t *testing.T) {
	for name, model := range map[string]generator.Model{
		"unreachable":         failingModel{},
		"missing explanation": missingExplanationModel{},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.service.generator = generator.NewGenerator(model, time.Second, logger.Discard(), env.metrics)

			dto, err := env.service.Issue(context.Background(), "user_1", "easy")
			require.NoError(t, err)
			assert.Equal(t, "Basic Python List Operation", dto.Title)
			assert.Len(t, dto.Options, 4)
			assert.Equal(t, 0, dto.CorrectAnswerID)
			assert.Equal(t, quota.InitialGrant-1, env.remaining(t, "user_1"))
		})
	}
}

func TestHistory_OnlyCallersChallengesInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var issued []uint
	for _, d := range []string{"easy", "medium", "hard"} {
		dto, err := env.service.Issue(ctx, "user_a", d)
		require.NoError(t, err)
		issued = append(issued, dto.ID)
	}
	_, err := env.service.Issue(ctx, "user_b", "easy")
	require.NoError(t, err)

	history, err := env.service.History(ctx, "user_a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, c := range history {
		assert.Equal(t, issued[i], c.ID)
		assert.Equal(t, "user_a", c.CreatedBy)
	}

	empty, err := env.service.History(ctx, "user_nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestHistory_CacheAside(t *testing.T) {
	env := newTestEnv(t)
	cache := newMemoryCache()
	env.service.SetCache(cache)
	ctx := context.Background()

	_, err := env.service.Issue(ctx, "user_1", "easy")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_1"}, cache.invalidated)

	history, err := env.service.History(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	cached, found, _ := cache.GetHistory(ctx, "user_1")
	require.True(t, found)
	assert.Equal(t, history, cached)

	// Served from the cache without touching the store.
	cache.entries["user_1"] = []models.ChallengeDTO{{ID: 999, CreatedBy: "user_1"}}
	history, err = env.service.History(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, uint(999), history[0].ID)

	// Issuance drops the cached copy.
	_, err = env.service.Issue(ctx, "user_1", "medium")
	require.NoError(t, err)
	history, err = env.service.History(ctx, "user_1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	cache.getErr = errors.New("redis down")
	history, err = env.service.History(ctx, "user_1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestIssue_NotifiesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	notifier := &recordingNotifier{}
	env.service.SetNotifier(notifier)

	dto, err := env.service.Issue(context.Background(), "user_1", "easy")
	require.NoError(t, err)

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, EventChallengeIssued, notifier.sent[0].kind)
	assert.Equal(t, *dto, notifier.sent[0].data)
	assert.Equal(t, EventQuotaUpdated, notifier.sent[1].kind)
	status, ok := notifier.sent[1].data.(models.QuotaDTO)
	require.True(t, ok)
	assert.Equal(t, quota.InitialGrant-1, status.RemainingQuota)

	env.seedQuota(t, "user_2", 0)
	_, err = env.service.Issue(context.Background(), "user_2", "easy")
	require.Error(t, err)
	assert.Len(t, notifier.sent, 2, "rejections are not broadcast")
}

func TestQuotaStatus_ProvisionsUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.service.QuotaStatus(context.Background(), "user_new")
	require.NoError(t, err)
	assert.Equal(t, "user_new", status.UserID)
	assert.Equal(t, quota.InitialGrant, status.RemainingQuota)
	assert.True(t, status.NextResetAt.Equal(testNow.Add(quota.ResetWindow)))
}
