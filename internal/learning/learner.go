// Package learning turns human review decisions into confidence adjustments.
// Durable patterns are derived from the accumulated feedback history;
// session patterns are learned from the current batch and promoted once
// they have been reinforced often enough.
package learning

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/gatekeeper/internal/filelock"
	"github.com/harrison/gatekeeper/internal/models"
)

const (
	documentVersion = 1

	// SourceLearnedPattern tags alternatives proposed from past modifications.
	SourceLearnedPattern = "learned_pattern"
)

// ErrNotReviewed is returned when feedback is recorded for an undecided item.
var ErrNotReviewed = errors.New("review item has no decision")

// Logger is the subset of logging the learner needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Options configures a Learner.
type Options struct {
	// Path is the feedback history snapshot. Empty keeps history in memory.
	Path                  string
	MinSamplesToLearn     int
	MaxAdjustment         float64
	ErrorRateThreshold    float64
	SessionMergeThreshold int
	Logger                Logger
	Now                   func() time.Time
}

// MethodStats summarizes the feedback recorded for one method.
type MethodStats struct {
	Method    string  `json:"method"`
	Records   int     `json:"records"`
	Approved  int     `json:"approved"`
	Modified  int     `json:"modified"`
	Rejected  int     `json:"rejected"`
	Skipped   int     `json:"skipped"`
	ErrorRate float64 `json:"error_rate"`
}

// MergeSummary reports what EndSession did with the session patterns.
type MergeSummary struct {
	SessionID string `json:"session_id"`
	Patterns  int    `json:"patterns"`
	Merged    int    `json:"merged"`
	Inserted  int    `json:"inserted"`
	Discarded int    `json:"discarded"`
}

// document is the persisted feedback history.
type document struct {
	Version  int                     `json:"version"`
	SavedAt  time.Time               `json:"saved_at"`
	Records  []models.FeedbackRecord `json:"records"`
	Patterns []models.LearnedPattern `json:"patterns"`
}

// Learner records feedback and serves learned confidence adjustments.
type Learner struct {
	mu   sync.Mutex
	opts Options

	records  []models.FeedbackRecord
	durable  []models.LearnedPattern
	session  []models.LearnedPattern
	sessID   string
	recorded map[string]bool
}

// NewLearner creates a learner and loads the durable history. A missing or
// unreadable snapshot starts an empty history.
func NewLearner(opts Options) *Learner {
	if opts.MinSamplesToLearn <= 0 {
		opts.MinSamplesToLearn = 5
	}
	if opts.MaxAdjustment <= 0 {
		opts.MaxAdjustment = 0.2
	}
	if opts.ErrorRateThreshold <= 0 {
		opts.ErrorRateThreshold = 0.3
	}
	if opts.SessionMergeThreshold <= 0 {
		opts.SessionMergeThreshold = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Learner{opts: opts, recorded: make(map[string]bool)}
	l.load()
	return l
}

func (l *Learner) load() {
	if l.opts.Path == "" {
		return
	}
	var doc document
	found, err := filelock.LoadJSON(l.opts.Path, &doc)
	if err != nil {
		l.logWarn(fmt.Sprintf("feedback history %s unreadable, starting empty: %v", l.opts.Path, err))
		return
	}
	if !found {
		return
	}
	l.records = doc.Records
	l.durable = doc.Patterns
	for _, r := range l.records {
		if r.ReviewItemID != "" {
			l.recorded[r.ReviewItemID] = true
		}
	}
	l.logDebug(fmt.Sprintf("loaded %d feedback records and %d patterns", len(l.records), len(l.durable)))
}

// save writes the durable history. Failures are logged, never returned.
func (l *Learner) save() {
	if l.opts.Path == "" {
		return
	}
	doc := document{
		Version:  documentVersion,
		SavedAt:  l.opts.Now(),
		Records:  l.records,
		Patterns: l.durable,
	}
	if doc.Records == nil {
		doc.Records = []models.FeedbackRecord{}
	}
	if doc.Patterns == nil {
		doc.Patterns = []models.LearnedPattern{}
	}
	if err := filelock.SaveJSON(l.opts.Path, doc); err != nil {
		l.logWarn(fmt.Sprintf("failed to persist feedback history: %v", err))
	}
}

// RecordFeedback appends an audit record for a resolved review item and
// refreshes the method's durable error-rate pattern. Recording the same
// item twice is a no-op.
func (l *Learner) RecordFeedback(item *models.ReviewItem) (*models.FeedbackRecord, error) {
	if item == nil || item.Envelope == nil {
		return nil, fmt.Errorf("record feedback: nil review item")
	}
	if !item.Reviewed() {
		return nil, fmt.Errorf("record feedback for %s: %w", item.ID, ErrNotReviewed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.recorded[item.ID] {
		return nil, nil
	}

	original := OriginalParams(item)
	rec := models.FeedbackRecord{
		ID:                 uuid.NewString(),
		ReviewItemID:       item.ID,
		Operation:          item.Envelope.Operation,
		OriginalParams:     original.Clone(),
		OriginalConfidence: item.Envelope.OverallConfidence,
		Decision:           item.Decision,
		AICorrect:          item.Decision == models.DecisionApprove,
		Rationale:          item.Notes,
		Characteristics:    ExtractCharacteristics(item),
		RecordedAt:         l.opts.Now(),
	}
	switch item.Decision {
	case models.DecisionApprove:
		rec.ApprovedParams = original.Clone()
	case models.DecisionModify:
		rec.ApprovedParams = item.ModifiedParams.Clone()
	}

	l.records = append(l.records, rec)
	l.recorded[item.ID] = true
	l.refreshMethodPattern(rec.Operation)
	l.save()
	return &rec, nil
}

// refreshMethodPattern creates or reinforces the method-wide negative pattern
// once a method has enough judged records with a high error rate, and
// retires it when the error rate recovers.
func (l *Learner) refreshMethodPattern(method string) {
	stats := l.methodStats(method)
	judged := stats.Records - stats.Skipped
	if judged < l.opts.MinSamplesToLearn {
		return
	}

	idx := -1
	for i := range l.durable {
		if l.durable[i].Source == models.PatternErrorRate && l.durable[i].Method == method {
			idx = i
			break
		}
	}

	now := l.opts.Now()
	if stats.ErrorRate > l.opts.ErrorRateThreshold {
		adj := -stats.ErrorRate * l.opts.MaxAdjustment
		if idx >= 0 {
			l.durable[idx].ConfidenceAdjustment = adj
			l.durable[idx].SampleCount = judged
			l.durable[idx].UpdatedAt = now
			return
		}
		l.durable = append(l.durable, models.LearnedPattern{
			ID:                   uuid.NewString(),
			Method:               method,
			ConfidenceAdjustment: adj,
			SampleCount:          judged,
			Source:               models.PatternErrorRate,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		l.logDebug(fmt.Sprintf("learned negative pattern for %s: error rate %.0f%% over %d decisions", method, stats.ErrorRate*100, judged))
		return
	}

	if idx >= 0 {
		l.logDebug(fmt.Sprintf("retiring negative pattern for %s: error rate recovered to %.0f%%", method, stats.ErrorRate*100))
		l.durable = append(l.durable[:idx], l.durable[idx+1:]...)
	}
}

// GetConfidenceAdjustment sums the adjustments of every matching durable and
// session pattern, clamped to ±MaxAdjustment.
func (l *Learner) GetConfidenceAdjustment(method string, params models.Params) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum float64
	for i := range l.durable {
		if l.durable[i].Matches(method, params) {
			sum += l.durable[i].ConfidenceAdjustment
		}
	}
	for i := range l.session {
		if l.session[i].Matches(method, params) {
			sum += l.session[i].ConfidenceAdjustment
		}
	}
	return models.ClampAbs(sum, l.opts.MaxAdjustment)
}

// StartSession begins a new learning session, discarding any unmerged
// session patterns.
func (l *Learner) StartSession(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if len(l.session) > 0 {
		l.logDebug(fmt.Sprintf("discarding %d unmerged patterns from session %s", len(l.session), l.sessID))
	}
	l.sessID = id
	l.session = nil
}

// SessionID returns the active session id, if any.
func (l *Learner) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessID
}

// LearnFromDecision turns a resolved review item into a session pattern,
// reinforcing an equivalent one when present.
func (l *Learner) LearnFromDecision(item *models.ReviewItem) (models.LearnedPattern, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Now()
	p, ok := FromReviewDecision(item, now)
	if !ok {
		return models.LearnedPattern{}, false
	}
	if l.sessID == "" {
		l.sessID = uuid.NewString()
	}
	key := p.Key()
	for i := range l.session {
		if l.session[i].Key() == key {
			mergePattern(&l.session[i], p, now)
			return l.session[i], true
		}
	}
	l.session = append(l.session, p)
	return p, true
}

// EndSession promotes every session pattern reinforced at least
// SessionMergeThreshold times into the durable store and clears the session.
func (l *Learner) EndSession() MergeSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := MergeSummary{SessionID: l.sessID, Patterns: len(l.session)}
	now := l.opts.Now()
	for _, sp := range l.session {
		if sp.SampleCount < l.opts.SessionMergeThreshold {
			summary.Discarded++
			continue
		}
		key := sp.Key()
		merged := false
		for i := range l.durable {
			if l.durable[i].Key() == key {
				mergePattern(&l.durable[i], sp, now)
				merged = true
				break
			}
		}
		if merged {
			summary.Merged++
			continue
		}
		sp.ID = uuid.NewString()
		sp.Source = models.PatternDurable
		sp.UpdatedAt = now
		l.durable = append(l.durable, sp)
		summary.Inserted++
	}

	l.session = nil
	l.sessID = ""
	if summary.Merged+summary.Inserted > 0 {
		l.save()
	}
	return summary
}

// Patterns returns durable then session patterns, each group sorted.
func (l *Learner) Patterns() []models.LearnedPattern {
	l.mu.Lock()
	defer l.mu.Unlock()

	durable := append([]models.LearnedPattern(nil), l.durable...)
	session := append([]models.LearnedPattern(nil), l.session...)
	sortPatterns(durable)
	sortPatterns(session)
	return append(durable, session...)
}

// Records returns a copy of the feedback history in recording order.
func (l *Learner) Records() []models.FeedbackRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.FeedbackRecord(nil), l.records...)
}

// MethodStats summarizes the feedback recorded for method.
func (l *Learner) MethodStats(method string) MethodStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.methodStats(method)
}

// AllMethodStats summarizes every method with feedback, sorted by name.
func (l *Learner) AllMethodStats() []MethodStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]bool{}
	var out []MethodStats
	for _, r := range l.records {
		if !seen[r.Operation] {
			seen[r.Operation] = true
			out = append(out, l.methodStats(r.Operation))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// methodStats counts decisions for method. Skips are not judgments and are
// excluded from the error rate.
func (l *Learner) methodStats(method string) MethodStats {
	s := MethodStats{Method: method}
	for _, r := range l.records {
		if r.Operation != method {
			continue
		}
		s.Records++
		switch r.Decision {
		case models.DecisionApprove:
			s.Approved++
		case models.DecisionModify:
			s.Modified++
		case models.DecisionReject:
			s.Rejected++
		case models.DecisionSkip:
			s.Skipped++
		}
	}
	if judged := s.Records - s.Skipped; judged > 0 {
		s.ErrorRate = float64(s.Modified+s.Rejected) / float64(judged)
	}
	return s
}

// Alternatives proposes parameter sets from past modifications of method:
// each distinct set of changed values that applies to params becomes one
// alternative, more frequent modifications ranking higher.
func (l *Learner) Alternatives(method string, params models.Params) []models.Alternative {
	l.mu.Lock()
	defer l.mu.Unlock()

	type candidate struct {
		params models.Params
		count  int
	}
	var cands []*candidate
	modifies := 0
	for _, r := range l.records {
		if r.Operation != method || r.Decision != models.DecisionModify {
			continue
		}
		modifies++
		alt, ok := overlayChanges(params, r.OriginalParams, r.ApprovedParams)
		if !ok {
			continue
		}
		found := false
		for _, c := range cands {
			if c.params.Equal(alt) {
				c.count++
				found = true
				break
			}
		}
		if !found {
			cands = append(cands, &candidate{params: alt, count: 1})
		}
	}

	out := make([]models.Alternative, 0, len(cands))
	for _, c := range cands {
		share := float64(c.count) / float64(modifies)
		out = append(out, models.Alternative{
			Params:      c.params,
			Confidence:  0.5 + 0.3*share,
			Source:      SourceLearnedPattern,
			Description: fmt.Sprintf("reviewers made this change %d of %d times", c.count, modifies),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// overlayChanges applies the values a reviewer changed (original -> approved)
// onto params. It fails when a changed key is absent from params or when
// nothing would change.
func overlayChanges(params, original, approved models.Params) (models.Params, bool) {
	alt := params.Clone()
	changed := 0
	for k, v := range approved {
		if ov, ok := original[k]; ok && models.FormatValue(ov) == models.FormatValue(v) {
			continue
		}
		if _, ok := original[k]; ok && !params.Has(k) {
			return nil, false
		}
		alt[k] = v
		changed++
	}
	if changed == 0 || alt.Equal(params) {
		return nil, false
	}
	return alt, true
}

func (l *Learner) logWarn(msg string) {
	if l.opts.Logger != nil {
		l.opts.Logger.LogWarn(msg)
	}
}

func (l *Learner) logDebug(msg string) {
	if l.opts.Logger != nil {
		l.opts.Logger.LogDebug(msg)
	}
}
