package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/harrison/gatekeeper/internal/models"
)

// ErrUnavailable is returned when memory is disabled or its breaker is open.
var ErrUnavailable = errors.New("cross-session memory unavailable")

// Backend is the persistence behind a Client. *Store implements it.
type Backend interface {
	RecordOutcome(ctx context.Context, method string, success bool, confidence float64) error
	HistoricalAccuracy(ctx context.Context, method string) (Accuracy, error)
	StoreCorrection(ctx context.Context, c Correction) error
	CorrectionCount(ctx context.Context, method string) (int, error)
	Corrections(ctx context.Context, method string, limit int) ([]Correction, error)
}

// Logger is the subset of logging the client needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// ClientOptions configures availability and timeouts.
type ClientOptions struct {
	Enabled         bool
	Timeout         time.Duration
	CacheTTL        time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          Logger
}

// Client is the injected cross-session memory collaborator. Every call is
// best-effort: bounded by Timeout, short-circuited by a breaker, and
// reported as ErrUnavailable rather than blocking the pipeline.
type Client struct {
	backend Backend
	opts    ClientOptions
	breaker *breaker
	cache   *ristretto.Cache[string, Accuracy]
	group   singleflight.Group
}

// NewClient wraps backend. A nil backend yields a permanently unavailable client.
func NewClient(backend Backend, opts ClientOptions) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Accuracy]{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create accuracy cache: %w", err)
	}
	return &Client{
		backend: backend,
		opts:    opts,
		breaker: newBreaker(opts.BreakerFailures, opts.BreakerCooldown),
		cache:   cache,
	}, nil
}

// Available reports whether calls will currently reach the backend.
func (c *Client) Available() bool {
	return c != nil && c.opts.Enabled && c.backend != nil && !c.breaker.isOpen()
}

// Close releases the cache.
func (c *Client) Close() {
	if c != nil {
		c.cache.Close()
	}
}

func (c *Client) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if c == nil || !c.opts.Enabled || c.backend == nil {
		return ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.breaker.execute(func() error { return fn(ctx) })
	if errors.Is(err, errBreakerOpen) {
		return ErrUnavailable
	}
	if err != nil {
		c.logWarn(fmt.Sprintf("memory %s failed: %v", name, err))
		return fmt.Errorf("memory %s: %w", name, err)
	}
	return nil
}

func (c *Client) logWarn(msg string) {
	if c.opts.Logger != nil {
		c.opts.Logger.LogWarn(msg)
	}
}

// HistoricalAccuracy returns the cached or stored accuracy of method.
// Concurrent lookups for the same method share one backend call.
func (c *Client) HistoricalAccuracy(ctx context.Context, method string) (Accuracy, error) {
	if c == nil {
		return Accuracy{}, ErrUnavailable
	}
	if acc, ok := c.cache.Get(method); ok {
		return acc, nil
	}

	v, err, _ := c.group.Do(method, func() (any, error) {
		var acc Accuracy
		err := c.call(ctx, "accuracy", func(ctx context.Context) error {
			var err error
			acc, err = c.backend.HistoricalAccuracy(ctx, method)
			return err
		})
		if err != nil {
			return Accuracy{}, err
		}
		c.cache.SetWithTTL(method, acc, 1, c.opts.CacheTTL)
		c.cache.Wait()
		return acc, nil
	})
	if err != nil {
		return Accuracy{}, err
	}
	return v.(Accuracy), nil
}

// Accuracy adapts HistoricalAccuracy to the calculator's collaborator shape.
func (c *Client) Accuracy(ctx context.Context, method string) (float64, int, error) {
	acc, err := c.HistoricalAccuracy(ctx, method)
	if err != nil {
		return 0, 0, err
	}
	return acc.AccuracyRate, acc.TotalCalls, nil
}

// RecordOutcome stores an execution outcome and invalidates the cached accuracy.
func (c *Client) RecordOutcome(ctx context.Context, method string, success bool, confidence float64) error {
	err := c.call(ctx, "record outcome", func(ctx context.Context) error {
		return c.backend.RecordOutcome(ctx, method, success, confidence)
	})
	if err == nil {
		c.cache.Del(method)
	}
	return err
}

// StoreCorrection records a human correction.
func (c *Client) StoreCorrection(ctx context.Context, corr Correction) error {
	return c.call(ctx, "store correction", func(ctx context.Context) error {
		return c.backend.StoreCorrection(ctx, corr)
	})
}

// CorrectionCount returns the number of documented corrections for method.
func (c *Client) CorrectionCount(ctx context.Context, method string) (int, error) {
	var n int
	err := c.call(ctx, "correction count", func(ctx context.Context) error {
		var err error
		n, err = c.backend.CorrectionCount(ctx, method)
		return err
	})
	return n, err
}

// CorrectedAlternatives turns past corrections for method into alternative
// parameter interpretations. A correction applies when every parameter it
// changed was also present in params; its corrected values are overlaid.
func (c *Client) CorrectedAlternatives(ctx context.Context, method string, params models.Params) ([]models.Alternative, error) {
	var corrections []Correction
	err := c.call(ctx, "corrections", func(ctx context.Context) error {
		var err error
		corrections, err = c.backend.Corrections(ctx, method, 20)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []models.Alternative
	seen := map[string]bool{}
	for i, corr := range corrections {
		alt := params.Clone()
		changed := 0
		applies := true
		for k, v := range corr.CorrectedParams {
			if orig, ok := corr.OriginalParams[k]; ok && models.FormatValue(orig) == models.FormatValue(v) {
				continue
			}
			if !params.Has(k) && corr.OriginalParams.Has(k) {
				applies = false
				break
			}
			alt[k] = v
			changed++
		}
		if !applies || changed == 0 || alt.Equal(params) {
			continue
		}
		key := models.FormatValue(map[string]any(alt))
		if seen[key] {
			continue
		}
		seen[key] = true

		// Newer corrections are more trustworthy.
		conf := 0.75 - 0.05*float64(i)
		if conf < 0.3 {
			conf = 0.3
		}
		desc := "previously corrected by a reviewer"
		if corr.Reason != "" {
			desc = corr.Reason
		}
		out = append(out, models.Alternative{
			Params:      alt,
			Confidence:  conf,
			Source:      "correction_history",
			Description: desc,
		})
	}
	return out, nil
}
