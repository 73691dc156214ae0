// Package registry executes operations against the external model and
// describes the methods it knows about.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harrison/gatekeeper/internal/models"
)

// MethodRegistry runs one operation against the external model. A returned
// error and a result with Success=false are both execution failures.
type MethodRegistry interface {
	Execute(ctx context.Context, method string, params models.Params) (models.ExecutionResult, error)
}

// ParamList is a list of parameter names that accepts both a
// comma-separated string and a yaml array.
type ParamList []string

// UnmarshalYAML accepts "level_id, length" as well as [level_id, length].
func (p *ParamList) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		parts := strings.Split(str, ",")
		*p = make(ParamList, 0, len(parts))
		for _, part := range parts {
			if name := strings.TrimSpace(part); name != "" {
				*p = append(*p, name)
			}
		}
		return nil
	}

	var arr []string
	if err := value.Decode(&arr); err == nil {
		*p = ParamList(arr)
		return nil
	}

	return fmt.Errorf("required must be either a comma-separated string or an array")
}

// MethodSpec describes one statically known method.
type MethodSpec struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description,omitempty"`
	Required    ParamList `yaml:"required" json:"required"`
}

// Catalog maps method names to their specs.
type Catalog struct {
	mu      sync.RWMutex
	methods map[string]MethodSpec
}

// NewCatalog creates a catalog holding specs.
func NewCatalog(specs ...MethodSpec) *Catalog {
	c := &Catalog{methods: make(map[string]MethodSpec, len(specs))}
	for _, s := range specs {
		c.Register(s)
	}
	return c
}

// DefaultCatalog knows the methods the simulated model implements.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		MethodSpec{Name: "create_wall", Description: "Create a wall on a level", Required: ParamList{"level_id", "length", "height"}},
		MethodSpec{Name: "create_door", Description: "Place a door in a host wall", Required: ParamList{"host_id", "width"}},
		MethodSpec{Name: "create_window", Description: "Place a window in a host wall", Required: ParamList{"host_id", "width"}},
		MethodSpec{Name: "create_room", Description: "Create a room on a level", Required: ParamList{"level_id", "area"}},
		MethodSpec{Name: "modify_wall", Description: "Change properties of an existing wall", Required: ParamList{"element_id"}},
		MethodSpec{Name: "delete_element", Description: "Delete an element", Required: ParamList{"element_id"}},
		MethodSpec{Name: "get_element", Description: "Read one element", Required: ParamList{"element_id"}},
		MethodSpec{Name: "query_elements", Description: "List elements of a category", Required: ParamList{"category"}},
	)
}

// LoadCatalog reads additional method specs from a yaml document of the
// form {methods: [{name, description, required}]} into c.
func (c *Catalog) LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var doc struct {
		Methods []MethodSpec `yaml:"methods"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, m := range doc.Methods {
		if m.Name == "" {
			return fmt.Errorf("catalog %s: method %d has no name", path, i)
		}
		c.Register(m)
	}
	return nil
}

// Register adds or replaces a method spec.
func (c *Catalog) Register(spec MethodSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[spec.Name] = spec
}

// RequiredParams returns the required parameters of a known method.
func (c *Catalog) RequiredParams(method string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.methods[method]
	if !ok {
		return nil, false
	}
	return append([]string(nil), spec.Required...), true
}

// Methods returns every spec sorted by name.
func (c *Catalog) Methods() []MethodSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MethodSpec, 0, len(c.methods))
	for _, s := range c.methods {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Missing returns the required parameters of method absent from params.
func (c *Catalog) Missing(method string, params models.Params) []string {
	required, _ := c.RequiredParams(method)
	var missing []string
	for _, name := range required {
		if !params.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
