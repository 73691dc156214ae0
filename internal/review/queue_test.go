package review

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/gatekeeper/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func lowEnvelope(id string) *models.Envelope {
	return &models.Envelope{
		ID:                id,
		Operation:         "create_wall",
		Params:            models.Params{"height": 30.0, "level_id": 2},
		OverallConfidence: 0.4,
		Status:            models.StatusPass3Queued,
		Factors: []models.ConfidenceFactor{
			{Name: models.FactorParameterCompleteness, Score: 1, Weight: 0.18, Reason: "all present"},
			{Name: models.FactorPreflightCheck, Score: 0.6, Weight: 0.22, Reason: "pre-flight warnings: wall overlaps"},
			{
				Name:   models.FactorDomainValidation,
				Score:  0.7,
				Weight: 0.10,
				Reason: "1 domain rule violations",
				Detail: map[string]any{"violations": []string{"[hard_fail] height: wall height out of buildable range (30 is above maximum 20)"}, "hard_fails": 1},
			},
		},
	}
}

func TestEnqueueGeneratesQuestionsAndOptions(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	env := lowEnvelope("env-1")
	env.Alternatives = []models.Alternative{
		{Params: models.Params{"height": 3.0, "level_id": 2}, Confidence: 0.6, Source: "correction_history"},
		{Params: models.Params{"height": 2.8, "level_id": 2}, Confidence: 0.8, Source: "pattern"},
		{Params: models.Params{"height": 2.5, "level_id": 2}, Confidence: 0.3, Source: "pattern"},
		{Params: models.Params{"height": 2.0, "level_id": 2}, Confidence: 0.2, Source: "pattern"},
	}

	item := q.Enqueue(env, "")
	require.NotNil(t, item)
	assert.Equal(t, models.StatusInReview, env.Status)
	assert.Contains(t, item.Reason, "0.40")

	joined := strings.Join(item.Questions, "\n")
	assert.Contains(t, joined, "wall overlaps", "low pre-flight factor should produce a question")
	assert.Contains(t, joined, "wall height out of buildable range", "domain violation should produce a question")

	require.Len(t, item.Options, 5, "approve + three alternatives + reject")
	assert.Equal(t, models.OptionApprove, item.Options[0].ID)
	assert.Equal(t, "alternative-1", item.Options[1].ID)
	assert.InDelta(t, 0.8, item.Options[1].Confidence, 1e-9)
	assert.Equal(t, models.OptionReject, item.Options[4].ID)
	assert.Equal(t, "alternative-1", item.Recommendation)

	pending := q.GetPendingItems()
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
}

func TestEnqueueRefreshesExistingItem(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	env := lowEnvelope("env-1")

	first := q.Enqueue(env, "held too long")
	second := q.Enqueue(env, "verification failed")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "verification failed", second.Reason)
	assert.Equal(t, 1, q.Len())
}

func TestCapacityPurgesExpiredThenEvictsOldest(t *testing.T) {
	clock := newClock()
	q := NewQueue(Options{MaxSize: 3, Expiry: time.Hour, Now: clock.Now})

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(lowEnvelope(id), "")
		clock.Advance(time.Minute)
	}
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 3, q.Stats().Expired)

	q.Enqueue(lowEnvelope("d"), "")
	stats := q.Stats()
	assert.Equal(t, 0, stats.Expired, "expired items are purged before anything is evicted")
	assert.Equal(t, 1, stats.Pending)

	for _, id := range []string{"e", "f", "g"} {
		clock.Advance(time.Minute)
		q.Enqueue(lowEnvelope(id), "")
		assert.LessOrEqual(t, q.Stats().Pending+q.Stats().Expired, 3)
	}

	var ids []string
	for _, item := range q.GetPendingItems() {
		ids = append(ids, item.Envelope.ID)
	}
	assert.Equal(t, []string{"e", "f", "g"}, ids, "oldest pending item is evicted")
}

func TestSubmitDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision models.Decision
		params   models.Params
		want     models.Status
	}{
		{"approve", models.DecisionApprove, nil, models.StatusApproved},
		{"modify", models.DecisionModify, models.Params{"height": 3.0, "level_id": 2}, models.StatusApproved},
		{"reject", models.DecisionReject, nil, models.StatusRejected},
		{"skip", models.DecisionSkip, nil, models.StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(Options{Now: newClock().Now})
			env := lowEnvelope("env-1")
			item := q.Enqueue(env, "")

			require.True(t, q.SubmitDecision(item.ID, tt.decision, tt.params, "looked at it"))
			assert.Equal(t, tt.want, env.Status)
			assert.Equal(t, tt.decision, item.Decision)
			assert.Equal(t, "looked at it", item.Notes)
			assert.Empty(t, q.GetPendingItems())
			if tt.decision == models.DecisionModify {
				h, _ := env.Params.GetDouble("height")
				assert.Equal(t, 3.0, h)
			}
		})
	}
}

func TestSubmitDecisionRejectsInvalid(t *testing.T) {
	clock := newClock()
	q := NewQueue(Options{Expiry: time.Hour, Now: clock.Now})
	env := lowEnvelope("env-1")
	item := q.Enqueue(env, "")

	assert.False(t, q.SubmitDecision("missing", models.DecisionApprove, nil, ""))
	assert.False(t, q.SubmitDecision(item.ID, models.DecisionModify, nil, ""), "modify needs parameters")
	assert.False(t, q.SubmitDecision(item.ID, models.Decision("maybe"), nil, ""))
	assert.Equal(t, models.StatusInReview, env.Status)

	require.True(t, q.SubmitDecision(item.ID, models.DecisionReject, nil, "wrong wall"))
	assert.False(t, q.SubmitDecision(item.ID, models.DecisionApprove, nil, "changed my mind"))
	assert.Equal(t, models.StatusRejected, env.Status)
	assert.Equal(t, "wrong wall", item.Notes)

	expiring := q.Enqueue(lowEnvelope("env-2"), "")
	clock.Advance(2 * time.Hour)
	assert.False(t, q.SubmitDecision(expiring.ID, models.DecisionApprove, nil, ""))
	assert.Equal(t, 1, q.PurgeExpired())
}

func TestSubmitOption(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	env := lowEnvelope("env-1")
	env.Alternatives = []models.Alternative{{Params: models.Params{"height": 3.0, "level_id": 2}, Confidence: 0.7, Source: "correction_history"}}
	item := q.Enqueue(env, "")

	require.Error(t, q.SubmitOption(item.ID, "alternative-9", ""))
	require.NoError(t, q.SubmitOption(item.ID[:8], "alternative-1", "use corrected height"))

	assert.Equal(t, models.DecisionModify, item.Decision)
	assert.Equal(t, models.StatusApproved, env.Status)
	h, _ := env.Params.GetDouble("height")
	assert.Equal(t, 3.0, h)
	assert.ErrorIs(t, q.SubmitOption(item.ID, models.OptionApprove, ""), ErrAlreadyReviewed)
}

func TestOnDecisionCallback(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	var got []*models.ReviewItem
	q.OnDecision(func(item *models.ReviewItem) {
		// The queue must not hold its lock while calling back.
		_ = q.Stats()
		got = append(got, item)
	})

	item := q.Enqueue(lowEnvelope("env-1"), "")
	require.True(t, q.SubmitDecision(item.ID, models.DecisionApprove, nil, ""))
	require.Len(t, got, 1)
	assert.Equal(t, item.ID, got[0].ID)

	reviewed := q.Reviewed()
	require.Len(t, reviewed, 1)
	assert.Equal(t, 1, q.Stats().ByDecision[models.DecisionApprove])
}

func TestApplyDecision(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	item := q.Enqueue(lowEnvelope("env-1"), "")

	assert.Error(t, q.ApplyDecision(item.ID), "no decision yet")
	assert.ErrorIs(t, q.ApplyDecision("nope"), ErrItemNotFound)

	require.True(t, q.SubmitDecision(item.ID, models.DecisionApprove, nil, ""))
	assert.NoError(t, q.ApplyDecision(item.ID), "re-applying is idempotent")
}

func TestQueuePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review_queue.json")
	clock := newClock()

	q := NewQueue(Options{Path: path, Now: clock.Now})
	first := q.Enqueue(lowEnvelope("env-1"), "held")
	q.Enqueue(lowEnvelope("env-2"), "held")
	require.True(t, q.SubmitDecision(first.ID, models.DecisionReject, nil, "no"))

	reloaded := NewQueue(Options{Path: path, Now: clock.Now})
	assert.Equal(t, 2, reloaded.Len())
	pending := reloaded.GetPendingItems()
	require.Len(t, pending, 1)
	assert.Equal(t, "env-2", pending[0].Envelope.ID)

	got, ok := reloaded.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, models.DecisionReject, got.Decision)
	assert.Equal(t, models.StatusRejected, got.Envelope.Status)

	// Violations survive the JSON round trip as questions.
	refreshed := reloaded.Enqueue(pending[0].Envelope, "again")
	assert.Contains(t, strings.Join(refreshed.Questions, "\n"), "buildable range")
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review_queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	q := NewQueue(Options{Path: path})
	assert.Equal(t, 0, q.Len())

	q.Enqueue(lowEnvelope("env-1"), "")
	assert.Equal(t, 1, NewQueue(Options{Path: path}).Len(), "next write replaces the corrupt snapshot")
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		alts       []models.Alternative
		want       string
	}{
		{"approve", 0.6, nil, models.OptionApprove},
		{"reject", 0.3, nil, models.OptionReject},
		{"better alternative", 0.3, []models.Alternative{{Params: models.Params{"x": 1}, Confidence: 0.5}}, "alternative-1"},
		{"weaker alternative", 0.6, []models.Alternative{{Params: models.Params{"x": 1}, Confidence: 0.5}}, models.OptionApprove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &models.Envelope{Params: models.Params{"x": 0}, OverallConfidence: tt.confidence, Alternatives: tt.alts}
			assert.Equal(t, tt.want, Recommend(env, GenerateOptions(env)))
		})
	}
}

func TestGenerateQuestionsFallback(t *testing.T) {
	env := &models.Envelope{
		Operation:         "create_door",
		OverallConfidence: 0.72,
		Factors:           []models.ConfidenceFactor{{Name: models.FactorParameterCompleteness, Score: 0.9, Weight: 0.18}},
	}
	questions := GenerateQuestions(env)
	require.Len(t, questions, 1)
	assert.Contains(t, questions[0], "create_door")

	env.Verification = &models.VerificationReport{}
	env.Verification.Add(models.VerificationCheck{Name: "element_exists", Passed: false, Message: "no new element id"})
	questions = GenerateQuestions(env)
	assert.Contains(t, questions[0], "element_exists")
}

func TestExport(t *testing.T) {
	q := NewQueue(Options{Now: newClock().Now})
	assert.Contains(t, q.Export(), "Nothing awaits review")

	q.Enqueue(lowEnvelope("env-1"), "held through all passes")
	md := q.Export()
	assert.Contains(t, md, "## create_wall")
	assert.Contains(t, md, "held through all passes")
	assert.Contains(t, md, "| `approve` Approve as proposed |")

	html, err := q.ExportHTML()
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Review Queue</h1>")
	assert.Contains(t, html, "<table>")
}
