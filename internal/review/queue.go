// Package review holds operations the pipeline could not resolve on its own
// until a human decides what to do with them.
package review

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

var (
	// ErrItemNotFound is returned for an unknown review item id.
	ErrItemNotFound = errors.New("review item not found")
	// ErrAlreadyReviewed is returned when a decision was already recorded.
	ErrAlreadyReviewed = errors.New("review item already reviewed")
	// ErrExpired is returned when the item expired before a decision.
	ErrExpired = errors.New("review item expired")
)

const documentVersion = 1

// Logger is the subset of logging the queue needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Options configures a Queue.
type Options struct {
	// Path is the snapshot file. Empty keeps the queue in memory only.
	Path string
	// MaxSize bounds unreviewed (pending plus expired) items.
	MaxSize int
	// Expiry is how long an item stays pending. Zero means never.
	Expiry time.Duration
	Logger Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Stats summarizes the queue.
type Stats struct {
	Total      int                     `json:"total"`
	Pending    int                     `json:"pending"`
	Expired    int                     `json:"expired"`
	Reviewed   int                     `json:"reviewed"`
	ByDecision map[models.Decision]int `json:"by_decision,omitempty"`
}

// document is the persisted form of the queue.
type document struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"saved_at"`
	Items   []*models.ReviewItem `json:"items"`
}

// Queue is a bounded, expiring, file-backed review queue. Every public
// method holds the queue lock for its whole body.
type Queue struct {
	mu         sync.Mutex
	opts       Options
	items      []*models.ReviewItem
	onDecision func(*models.ReviewItem)
}

// NewQueue creates a queue and loads any existing snapshot. Load failures
// are logged and leave the queue empty.
func NewQueue(opts Options) *Queue {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	q := &Queue{opts: opts}
	q.load()
	return q
}

func (q *Queue) load() {
	if q.opts.Path == "" {
		return
	}
	var doc document
	found, err := filelock.LoadJSON(q.opts.Path, &doc)
	if err != nil {
		q.logWarn(fmt.Sprintf("review queue %s unreadable, starting empty: %v", q.opts.Path, err))
		return
	}
	if !found {
		return
	}
	for _, item := range doc.Items {
		if item != nil && item.Envelope != nil {
			q.items = append(q.items, item)
		}
	}
	q.logDebug(fmt.Sprintf("loaded %d review items from %s", len(q.items), q.opts.Path))
}

// save writes the whole queue. Failures are logged; memory stays authoritative.
func (q *Queue) save() {
	if q.opts.Path == "" {
		return
	}
	doc := document{Version: documentVersion, SavedAt: q.opts.Now(), Items: q.items}
	if doc.Items == nil {
		doc.Items = []*models.ReviewItem{}
	}
	if err := filelock.SaveJSON(q.opts.Path, doc); err != nil {
		q.logWarn(fmt.Sprintf("failed to persist review queue: %v", err))
	}
}

// OnDecision registers a callback invoked, outside the lock, after every
// successful decision.
func (q *Queue) OnDecision(fn func(*models.ReviewItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDecision = fn
}

// Enqueue wraps env in a review item. An unreviewed item for the same
// envelope is refreshed instead of duplicated. The envelope moves to InReview.
func (q *Queue) Enqueue(env *models.Envelope, reason string) *models.ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	if reason == "" {
		reason = fmt.Sprintf("confidence %.2f below execution threshold", env.OverallConfidence)
	}
	if env.Status != models.StatusInReview {
		if err := env.Transition(models.StatusInReview); err != nil {
			q.logWarn(fmt.Sprintf("enqueue %s: %v", env.ID, err))
		}
	}

	for _, existing := range q.items {
		if existing.Envelope.ID == env.ID && !existing.Reviewed() {
			existing.Envelope = env
			existing.Reason = reason
			existing.Questions = GenerateQuestions(env)
			existing.Options = GenerateOptions(env)
			existing.Recommendation = Recommend(env, existing.Options)
			existing.QueuedAt = now
			existing.ExpiresAt = q.expiry(now)
			q.save()
			return existing
		}
	}

	q.makeRoom(now)

	item := &models.ReviewItem{
		ID:        uuid.NewString(),
		Envelope:  env,
		Reason:    reason,
		Questions: GenerateQuestions(env),
		Options:   GenerateOptions(env),
		QueuedAt:  now,
		ExpiresAt: q.expiry(now),
	}
	item.Recommendation = Recommend(env, item.Options)
	q.items = append(q.items, item)
	q.trimReviewed()
	q.save()
	return item
}

func (q *Queue) expiry(now time.Time) time.Time {
	if q.opts.Expiry <= 0 {
		return time.Time{}
	}
	return now.Add(q.opts.Expiry)
}

// makeRoom frees a slot when the unreviewed items reach capacity: expired
// items go first, then the oldest pending item.
func (q *Queue) makeRoom(now time.Time) {
	if q.unreviewed() < q.opts.MaxSize {
		return
	}
	if n := q.purgeExpired(now); n > 0 {
		q.logDebug(fmt.Sprintf("purged %d expired review items to make room", n))
	}
	for q.unreviewed() >= q.opts.MaxSize {
		oldest := -1
		for i, item := range q.items {
			if item.Reviewed() {
				continue
			}
			if oldest < 0 || item.QueuedAt.Before(q.items[oldest].QueuedAt) {
				oldest = i
			}
		}
		if oldest < 0 {
			return
		}
		evicted := q.items[oldest]
		q.logWarn(fmt.Sprintf("review queue full (%d); evicting oldest item %s (%s)", q.opts.MaxSize, evicted.ID, evicted.Envelope.Operation))
		q.items = append(q.items[:oldest], q.items[oldest+1:]...)
	}
}

// trimReviewed keeps at most MaxSize resolved items, dropping the oldest.
func (q *Queue) trimReviewed() {
	reviewed := 0
	for _, item := range q.items {
		if item.Reviewed() {
			reviewed++
		}
	}
	if reviewed <= q.opts.MaxSize {
		return
	}
	drop := reviewed - q.opts.MaxSize
	kept := q.items[:0]
	for _, item := range q.items {
		if drop > 0 && item.Reviewed() {
			drop--
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
}

func (q *Queue) unreviewed() int {
	n := 0
	for _, item := range q.items {
		if !item.Reviewed() {
			n++
		}
	}
	return n
}

func (q *Queue) purgeExpired(now time.Time) int {
	kept := q.items[:0]
	purged := 0
	for _, item := range q.items {
		if item.Expired(now) {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return purged
}

// PurgeExpired removes every expired item and returns how many were removed.
func (q *Queue) PurgeExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.purgeExpired(q.opts.Now())
	if n > 0 {
		q.save()
	}
	return n
}

// GetPendingItems returns unreviewed, unexpired items, oldest first.
func (q *Queue) GetPendingItems() []*models.ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	var out []*models.ReviewItem
	for _, item := range q.items {
		if item.Pending(now) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out
}

// Reviewed returns resolved items in decision order.
func (q *Queue) Reviewed() []*models.ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.ReviewItem
	for _, item := range q.items {
		if item.Reviewed() {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewedAt.Before(out[j].ReviewedAt) })
	return out
}

// Get returns the item with id. A unique id prefix is also accepted.
func (q *Queue) Get(id string) (*models.ReviewItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.find(id)
	return item, err == nil
}

func (q *Queue) find(id string) (*models.ReviewItem, error) {
	var match *models.ReviewItem
	for _, item := range q.items {
		if item.ID == id {
			return item, nil
		}
		if len(id) >= 4 && len(item.ID) > len(id) && item.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("%w: ambiguous prefix %q", ErrItemNotFound, id)
			}
			match = item
		}
	}
	if match == nil {
		return nil, ErrItemNotFound
	}
	return match, nil
}

// Len returns the number of items held, resolved ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SubmitDecision records a human decision and applies it to the envelope.
// It returns false, changing nothing, for an unknown, reviewed or expired
// item, or a Modify without parameters.
func (q *Queue) SubmitDecision(id string, decision models.Decision, modified models.Params, notes string) bool {
	item, err := q.submit(id, decision, modified, notes)
	if err != nil {
		q.logDebug(fmt.Sprintf("decision for %s not recorded: %v", id, err))
		return false
	}
	q.notify(item)
	return true
}

// SubmitOption records the decision implied by one of the item's options:
// approve, reject, or an alternative (a Modify with its parameters).
func (q *Queue) SubmitOption(id, optionID, notes string) error {
	q.mu.Lock()
	item, err := q.find(id)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	opt, ok := item.Option(optionID)
	if !ok {
		return fmt.Errorf("review item %s has no option %q", item.ID, optionID)
	}
	decision := models.DecisionModify
	var params models.Params
	switch opt.ID {
	case models.OptionApprove:
		decision = models.DecisionApprove
	case models.OptionReject:
		decision = models.DecisionReject
	default:
		params = opt.Params
	}

	item, err = q.submit(item.ID, decision, params, notes)
	if err != nil {
		return err
	}
	q.notify(item)
	return nil
}

func (q *Queue) submit(id string, decision models.Decision, modified models.Params, notes string) (*models.ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.find(id)
	if err != nil {
		return nil, err
	}
	if item.Reviewed() {
		return nil, ErrAlreadyReviewed
	}
	now := q.opts.Now()
	if item.Expired(now) {
		return nil, ErrExpired
	}
	switch decision {
	case models.DecisionApprove, models.DecisionReject, models.DecisionSkip:
	case models.DecisionModify:
		if len(modified) == 0 {
			return nil, fmt.Errorf("modify decision requires parameters")
		}
	default:
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	item.Decision = decision
	item.ReviewedAt = now
	item.Notes = notes
	if decision == models.DecisionModify {
		item.ModifiedParams = modified.Clone()
	}
	if err := q.apply(item); err != nil {
		q.logWarn(err.Error())
	}
	q.save()
	return item, nil
}

func (q *Queue) notify(item *models.ReviewItem) {
	q.mu.Lock()
	fn := q.onDecision
	q.mu.Unlock()
	if fn != nil {
		fn(item)
	}
}

// ApplyDecision applies a recorded decision to the item's envelope. It is
// the only path by which a review outcome changes envelope status.
func (q *Queue) ApplyDecision(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.find(id)
	if err != nil {
		return err
	}
	if !item.Reviewed() {
		return fmt.Errorf("review item %s has no decision", item.ID)
	}
	if err := q.apply(item); err != nil {
		return err
	}
	q.save()
	return nil
}

func (q *Queue) apply(item *models.ReviewItem) error {
	env := item.Envelope
	var to models.Status
	switch item.Decision {
	case models.DecisionApprove:
		to = models.StatusApproved
	case models.DecisionModify:
		to = models.StatusApproved
		env.Params = item.ModifiedParams.Clone()
	case models.DecisionReject:
		to = models.StatusRejected
	case models.DecisionSkip:
		to = models.StatusSkipped
	default:
		return fmt.Errorf("review item %s: unknown decision %q", item.ID, item.Decision)
	}
	if env.Status == to {
		return nil
	}
	if err := env.Transition(to); err != nil {
		return fmt.Errorf("apply decision to %s: %w", env.ID, err)
	}
	return nil
}

// Stats counts items by state and decision.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	s := Stats{Total: len(q.items), ByDecision: map[models.Decision]int{}}
	for _, item := range q.items {
		switch {
		case item.Reviewed():
			s.Reviewed++
			s.ByDecision[item.Decision]++
		case item.Expired(now):
			s.Expired++
		default:
			s.Pending++
		}
	}
	return s
}

func (q *Queue) logWarn(msg string) {
	if q.opts.Logger != nil {
		q.opts.Logger.LogWarn(msg)
	}
}

func (q *Queue) logDebug(msg string) {
	if q.opts.Logger != nil {
		q.opts.Logger.LogDebug(msg)
	}
}
