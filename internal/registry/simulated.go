package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harrison/gatekeeper/internal/confidence"
	"github.com/harrison/gatekeeper/internal/models"
)

// Element is one object in the simulated model.
type Element struct {
	ID       int64         `json:"id"`
	Category string        `json:"category"`
	Props    models.Params `json:"props,omitempty"`
}

// placementKeys are echoed back from create operations.
var placementKeys = []string{"x", "y", "z", "level_id", "host_id"}

// SimulatedModel is an in-memory external model. It executes the methods of
// DefaultCatalog, resolves element ids and answers dry runs, so the pipeline
// can be driven end to end without a live authoring tool.
type SimulatedModel struct {
	mu       sync.Mutex
	catalog  *Catalog
	elements map[int64]*Element
	nextID   int64
	failures map[string]error
	drift    float64
	calls    []string
}

// NewSimulatedModel creates a model seeded with levels 1 and 2.
func NewSimulatedModel(catalog *Catalog) *SimulatedModel {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	m := &SimulatedModel{
		catalog:  catalog,
		elements: make(map[int64]*Element),
		nextID:   100,
		failures: make(map[string]error),
	}
	m.elements[1] = &Element{ID: 1, Category: "level", Props: models.Params{"name": "Level 1", "elevation": 0.0}}
	m.elements[2] = &Element{ID: 2, Category: "level", Props: models.Params{"name": "Level 2", "elevation": 3.0}}
	return m
}

// Seed adds an element and returns its id.
func (m *SimulatedModel) Seed(category string, props models.Params) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(category, props)
}

func (m *SimulatedModel) add(category string, props models.Params) int64 {
	id := m.nextID
	m.nextID++
	m.elements[id] = &Element{ID: id, Category: category, Props: props.Clone()}
	return id
}

// SetFailure makes every execution of method fail with err. A nil err clears it.
func (m *SimulatedModel) SetFailure(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// SetDrift offsets the x coordinate reported for created elements.
func (m *SimulatedModel) SetDrift(d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift = d
}

// Calls returns the executed method names in order.
func (m *SimulatedModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Element returns a copy of the element with id.
func (m *SimulatedModel) Element(id int64) (Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elements[id]
	if !ok {
		return Element{}, false
	}
	return Element{ID: e.ID, Category: e.Category, Props: e.Props.Clone()}, true
}

// ElementExists reports whether id is in the model.
func (m *SimulatedModel) ElementExists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.elements[id]
	return ok, nil
}

// Check dry-runs an operation: unresolved references are errors, missing
// required parameters and unknown methods are warnings.
func (m *SimulatedModel) Check(ctx context.Context, method string, params models.Params) (confidence.PreflightResult, error) {
	if err := ctx.Err(); err != nil {
		return confidence.PreflightResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	res := confidence.PreflightResult{CanProceed: true}
	if _, ok := m.catalog.RequiredParams(method); !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown method %s", method))
	}
	for _, name := range m.catalog.Missing(method, params) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("missing %s, the model default will be used", name))
	}
	for _, key := range params.Keys() {
		if !models.IsIDKey(key) {
			continue
		}
		id, ok := params.GetID(key)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s is not a valid element id", key))
			continue
		}
		if _, exists := m.elements[id]; !exists {
			res.Errors = append(res.Errors, fmt.Sprintf("%s %d does not exist", key, id))
		}
	}
	if err := m.failures[method]; err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is currently failing: %v", method, err))
	}
	res.CanProceed = len(res.Errors) == 0
	return res, nil
}

// Execute runs method against the model.
func (m *SimulatedModel) Execute(ctx context.Context, method string, params models.Params) (models.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ExecutionResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, method)
	if err := m.failures[method]; err != nil {
		return models.ExecutionResult{Success: false, Error: err.Error()}, nil
	}

	verb, category, ok := strings.Cut(method, "_")
	if !ok {
		return fail("unknown method %s", method), nil
	}
	switch verb {
	case "create":
		return m.create(category, params), nil
	case "modify", "update":
		return m.modify(params), nil
	case "delete", "remove":
		return m.delete(params), nil
	case "get", "read":
		return m.get(params), nil
	case "query", "list":
		return m.query(params), nil
	}
	return fail("unknown method %s", method), nil
}

func fail(format string, args ...any) models.ExecutionResult {
	return models.ExecutionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// resolve checks every id-shaped parameter against the model.
func (m *SimulatedModel) resolve(params models.Params) (string, bool) {
	for _, key := range params.Keys() {
		if !models.IsIDKey(key) {
			continue
		}
		id, ok := params.GetID(key)
		if !ok {
			return fmt.Sprintf("%s is not a valid element id", key), false
		}
		if _, exists := m.elements[id]; !exists {
			return fmt.Sprintf("%s %d does not exist", key, id), false
		}
	}
	return "", true
}

func (m *SimulatedModel) create(category string, params models.Params) models.ExecutionResult {
	if msg, ok := m.resolve(params); !ok {
		return fail("create %s: %s", category, msg)
	}
	if hostID, ok := params.GetID("host_id"); ok && m.elements[hostID].Category != "wall" {
		return fail("create %s: host %d is a %s, not a wall", category, hostID, m.elements[hostID].Category)
	}

	id := m.add(category, params)
	data := map[string]any{"element_id": id, "category": category}
	for _, key := range placementKeys {
		if v, ok := params[key]; ok {
			data[key] = v
		}
	}
	if x, ok := params.GetDouble("x"); ok && m.drift != 0 {
		data["x"] = x + m.drift
	}
	return models.ExecutionResult{Success: true, Data: data}
}

func (m *SimulatedModel) modify(params models.Params) models.ExecutionResult {
	id, ok := params.GetID("element_id")
	if !ok {
		return fail("modify: element_id is required")
	}
	if msg, ok := m.resolve(params); !ok {
		return fail("modify: %s", msg)
	}
	el := m.elements[id]
	var changed []string
	for _, key := range params.Keys() {
		if key == "element_id" {
			continue
		}
		el.Props[key] = params[key]
		changed = append(changed, key)
	}
	return models.ExecutionResult{Success: true, Data: map[string]any{"element_id": id, "modified": changed}}
}

func (m *SimulatedModel) delete(params models.Params) models.ExecutionResult {
	id, ok := params.GetID("element_id")
	if !ok {
		return fail("delete: element_id is required")
	}
	if _, exists := m.elements[id]; !exists {
		return fail("delete: element %d does not exist", id)
	}
	delete(m.elements, id)
	return models.ExecutionResult{Success: true, Data: map[string]any{"deleted_id": id}}
}

func (m *SimulatedModel) get(params models.Params) models.ExecutionResult {
	id, ok := params.GetID("element_id")
	if !ok {
		return fail("get: element_id is required")
	}
	el, exists := m.elements[id]
	if !exists {
		return fail("get: element %d does not exist", id)
	}
	return models.ExecutionResult{Success: true, Data: map[string]any{
		"element_id": el.ID,
		"category":   el.Category,
		"props":      map[string]any(el.Props.Clone()),
	}}
}

func (m *SimulatedModel) query(params models.Params) models.ExecutionResult {
	category, _ := params.GetString("category")
	ids := []int64{}
	for id, el := range m.elements {
		if category == "" || el.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return models.ExecutionResult{Success: true, Data: map[string]any{"count": len(ids), "ids": ids}}
}
