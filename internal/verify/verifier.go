// Package verify runs post-execution checks that confirm the external model
// reflects what an executed operation intended.
package verify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/harrison/gatekeeper/internal/models"
)

// Hook is a pluggable verification check.
type Hook interface {
	Name() string
	Verify(ctx context.Context, env *models.Envelope, result models.ExecutionResult) (models.VerificationCheck, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc struct {
	CheckName string
	Fn        func(ctx context.Context, env *models.Envelope, result models.ExecutionResult) (models.VerificationCheck, error)
}

// Name returns the check name.
func (h HookFunc) Name() string { return h.CheckName }

// Verify calls the wrapped function.
func (h HookFunc) Verify(ctx context.Context, env *models.Envelope, result models.ExecutionResult) (models.VerificationCheck, error) {
	return h.Fn(ctx, env, result)
}

// Check names of the built-in checks.
const (
	CheckResultSuccess = "result_success"
	CheckElementExists = "element_exists"
)

// nonCreatingVerbs exempt an operation from the element-existence check.
var nonCreatingVerbs = []string{"get", "read", "query", "list", "find", "delete", "remove"}

// Verifier runs the built-in checks followed by registered hooks.
type Verifier struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewVerifier creates a verifier with optional extra hooks.
func NewVerifier(hooks ...Hook) *Verifier {
	return &Verifier{hooks: hooks}
}

// Register adds a hook that runs after the built-in checks.
func (v *Verifier) Register(h Hook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hooks = append(v.hooks, h)
}

// RunVerifications checks env.Result and returns the aggregated report.
// A hook that errors or panics produces a failing check.
func (v *Verifier) RunVerifications(ctx context.Context, env *models.Envelope) *models.VerificationReport {
	report := &models.VerificationReport{EnvelopeID: env.ID, VerifiedAt: time.Now()}

	var result models.ExecutionResult
	if env.Result != nil {
		result = *env.Result
	}

	report.Add(checkSuccess(env, result))
	report.Add(checkElementExists(env, result))

	v.mu.RLock()
	hooks := append([]Hook(nil), v.hooks...)
	v.mu.RUnlock()

	for _, h := range hooks {
		report.Add(runHook(ctx, h, env, result))
	}
	return report
}

func runHook(ctx context.Context, h Hook, env *models.Envelope, result models.ExecutionResult) (check models.VerificationCheck) {
	defer func() {
		if r := recover(); r != nil {
			check = models.VerificationCheck{
				Name:    h.Name(),
				Passed:  false,
				Message: fmt.Sprintf("verification hook panicked: %v", r),
			}
		}
	}()

	check, err := h.Verify(ctx, env, result)
	if err != nil {
		return models.VerificationCheck{
			Name:    h.Name(),
			Passed:  false,
			Message: fmt.Sprintf("verification hook failed: %v", err),
		}
	}
	if check.Name == "" {
		check.Name = h.Name()
	}
	return check
}

func checkSuccess(env *models.Envelope, result models.ExecutionResult) models.VerificationCheck {
	check := models.VerificationCheck{
		Name:     CheckResultSuccess,
		Expected: "true",
		Actual:   fmt.Sprint(result.Success),
		Passed:   env.Result != nil && result.Success,
	}
	switch {
	case env.Result == nil:
		check.Message = "operation has no execution result"
	case !result.Success:
		check.Message = "execution did not report success"
		if result.Error != "" {
			check.Message += ": " + result.Error
		}
	default:
		check.Message = "execution reported success"
	}
	return check
}

func checkElementExists(env *models.Envelope, result models.ExecutionResult) models.VerificationCheck {
	check := models.VerificationCheck{Name: CheckElementExists, Expected: "new element id"}
	if !CreatesElement(env.Operation) {
		check.Passed = true
		check.Actual = "exempt"
		check.Message = fmt.Sprintf("%s does not create an element", env.Operation)
		return check
	}
	id, ok := result.NewID()
	if !ok {
		check.Actual = "none"
		check.Message = "result carries no valid new element id"
		return check
	}
	check.Passed = true
	check.Actual = fmt.Sprint(id)
	check.Message = fmt.Sprintf("element %d created", id)
	return check
}

// CreatesElement reports whether an operation name is expected to produce a
// new element (i.e. it is not read, query or delete shaped). Only whole
// words count: create_listing creates, list_rooms does not.
func CreatesElement(operation string) bool {
	for _, word := range operationWords(operation) {
		if slices.Contains(nonCreatingVerbs, word) {
			return false
		}
	}
	return true
}

// operationWords splits an operation name into lowercase words at
// underscores, hyphens, dots and camelCase boundaries.
func operationWords(operation string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(operation)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
