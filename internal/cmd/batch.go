package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrison/gatekeeper/internal/executor"
	"github.com/harrison/gatekeeper/internal/models"
	"github.com/harrison/gatekeeper/internal/registry"
)

// BatchFile is the on-disk form of a batch. JSON files parse too.
type BatchFile struct {
	Description string `yaml:"description"`

	// Elements seed the simulated model before the batch runs. Seeded ids
	// are assigned in order starting at 100.
	Elements []SeedElement `yaml:"elements"`

	Operations []BatchOperation `yaml:"operations"`
}

// SeedElement is one pre-existing model element.
type SeedElement struct {
	Category string        `yaml:"category"`
	Props    models.Params `yaml:"props"`
}

// BatchOperation is one requested operation.
type BatchOperation struct {
	ID        string        `yaml:"id"`
	Method    string        `yaml:"method"`
	Params    models.Params `yaml:"params"`
	DependsOn []string      `yaml:"depends_on"`
}

// LoadBatchFile reads and validates a batch file.
func LoadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var bf BatchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if err := bf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch file %s: %w", path, err)
	}
	return &bf, nil
}

// Validate checks that every operation names a method, ids are unique, and
// dependencies reference known ids or in-range indices.
func (b *BatchFile) Validate() error {
	if len(b.Operations) == 0 {
		return fmt.Errorf("no operations")
	}
	ids := make(map[string]bool, len(b.Operations))
	for i, op := range b.Operations {
		if strings.TrimSpace(op.Method) == "" {
			return fmt.Errorf("operation %d: method is required", i)
		}
		if op.ID == "" {
			continue
		}
		if ids[op.ID] {
			return fmt.Errorf("operation %d: duplicate id %q", i, op.ID)
		}
		ids[op.ID] = true
	}
	for i, op := range b.Operations {
		for _, dep := range op.DependsOn {
			if ids[dep] {
				continue
			}
			if n, err := strconv.Atoi(dep); err == nil && n >= 0 && n < len(b.Operations) {
				continue
			}
			return fmt.Errorf("operation %d: unknown dependency %q", i, dep)
		}
	}
	for i, el := range b.Elements {
		if el.Category == "" {
			return fmt.Errorf("element %d: category is required", i)
		}
	}
	return nil
}

// Requests converts the operations for the pipeline.
func (b *BatchFile) Requests() []executor.Request {
	out := make([]executor.Request, len(b.Operations))
	for i, op := range b.Operations {
		params := op.Params
		if params == nil {
			params = models.Params{}
		}
		out[i] = executor.Request{
			ID:        op.ID,
			Operation: op.Method,
			Params:    params,
			DependsOn: op.DependsOn,
		}
	}
	return out
}

// Seed adds the batch's elements to model and returns the assigned ids.
func (b *BatchFile) Seed(model *registry.SimulatedModel) []int64 {
	ids := make([]int64, len(b.Elements))
	for i, el := range b.Elements {
		ids[i] = model.Seed(el.Category, el.Props)
	}
	return ids
}
