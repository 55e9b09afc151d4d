package capability

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/adjutant/adjutant/internal/provider"
)

// ParamType is the wire-level type of a capability parameter.
type ParamType string

const (
	TypeString      ParamType = "string"
	TypeInt         ParamType = "int"
	TypeBool        ParamType = "bool"
	TypeDate        ParamType = "date"
	TypeDateTime    ParamType = "datetime"
	TypeStringArray ParamType = "string[]"
)

type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Definition describes one capability: its wire schema, whether executing it
// needs human approval, and how to decode/describe its parameters.
type Definition struct {
	Name             string
	Description      string
	ApprovalRequired bool
	Parameters       []Parameter

	// decode turns a raw argument map into the capability's typed parameter
	// struct. Definitions without a decoder get generic validation against
	// Parameters and pass the map through as CustomParams.
	decode func(map[string]any) (any, *ValidationError)

	// describe renders an approval-prompt line from decoded params.
	// Optional; the fallback is name plus the raw arguments.
	describe func(params any) string
}

// ValidationError reports a rejected invocation: unknown capability or
// missing/malformed parameters.
type ValidationError struct {
	Capability string
	Missing    []string
	Invalid    map[string]string
	Reason     string
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("invalid %s: %s", k, e.Invalid[k]))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "invalid parameters")
	}
	return fmt.Sprintf("capability %s: %s", e.Capability, strings.Join(parts, "; "))
}

func unknownCapability(name string) *ValidationError {
	return &ValidationError{Capability: name, Reason: "unknown capability"}
}

// Catalog is the single source of truth for capability metadata. It is
// populated at construction and read-only afterwards; all methods are safe
// for concurrent use.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCatalog builds a catalog from the given definitions. Duplicate names
// are an error.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		if err := c.register(defs[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("capability with empty name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Name]; exists {
		return fmt.Errorf("capability %q already registered", def.Name)
	}
	d := def
	c.defs[def.Name] = &d
	return nil
}

func (c *Catalog) get(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Has reports whether the catalog knows the capability.
func (c *Catalog) Has(name string) bool {
	_, ok := c.get(name)
	return ok
}

// Classify reports whether the capability requires approval before
// execution. An unknown name is always an error; callers never get a
// classification for a capability that does not exist.
func (c *Catalog) Classify(name string) (bool, error) {
	d, ok := c.get(name)
	if !ok {
		return false, unknownCapability(name)
	}
	return d.ApprovalRequired, nil
}

// Validate decodes and validates raw arguments, returning the capability's
// typed parameter struct. This is the single validation boundary; executor
// handlers receive already-validated params.
func (c *Catalog) Validate(name string, params map[string]any) (any, error) {
	d, ok := c.get(name)
	if !ok {
		return nil, unknownCapability(name)
	}
	if d.decode != nil {
		typed, verr := d.decode(params)
		if verr != nil {
			verr.Capability = name
			return nil, verr
		}
		return typed, nil
	}
	return genericDecode(d, params)
}

// Describe renders a human-readable one-line description of the invocation,
// for approval prompts and digests. Parameters are validated first.
func (c *Catalog) Describe(name string, params map[string]any) (string, error) {
	d, ok := c.get(name)
	if !ok {
		return "", unknownCapability(name)
	}
	typed, err := c.Validate(name, params)
	if err != nil {
		return "", err
	}
	if d.describe != nil {
		return d.describe(typed), nil
	}
	return genericDescribe(d.Name, params), nil
}

// Signature renders the exact wire-format signature of a capability, e.g.
//
//	check_calendar(start_date: date, end_date: date, calendar_ids?: string[])
func (c *Catalog) Signature(name string) (string, error) {
	d, ok := c.get(name)
	if !ok {
		return "", unknownCapability(name)
	}
	parts := make([]string, len(d.Parameters))
	for i, p := range d.Parameters {
		opt := ""
		if !p.Required {
			opt = "?"
		}
		parts[i] = fmt.Sprintf("%s%s: %s", p.Name, opt, p.Type)
	}
	return fmt.Sprintf("%s(%s)", d.Name, strings.Join(parts, ", ")), nil
}

// Names returns all capability names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolDefinitions exports every capability as a model tool definition. The
// JSON schema is derived from the same Parameter metadata as Signature.
func (c *Catalog) ToolDefinitions() []provider.ToolDefinition {
	names := c.Names()
	tools := make([]provider.ToolDefinition, 0, len(names))
	for _, name := range names {
		d, _ := c.get(name)
		tools = append(tools, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: parameterSchema(d.Parameters),
		})
	}
	return tools
}

func parameterSchema(params []Parameter) provider.Schema {
	props := make(map[string]provider.Schema, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = paramTypeSchema(p.Type, p.Description)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return provider.Schema{Type: "object", Properties: props, Required: required}
}

func paramTypeSchema(t ParamType, desc string) provider.Schema {
	switch t {
	case TypeInt:
		return provider.Schema{Type: "integer", Description: desc}
	case TypeBool:
		return provider.Schema{Type: "boolean", Description: desc}
	case TypeDate:
		return provider.Schema{Type: "string", Format: "date", Description: desc}
	case TypeDateTime:
		return provider.Schema{Type: "string", Format: "date-time", Description: desc}
	case TypeStringArray:
		return provider.Schema{Type: "array", Items: &provider.Schema{Type: "string"}, Description: desc}
	default:
		return provider.Schema{Type: "string", Description: desc}
	}
}

func genericDescribe(name string, params map[string]any) string {
	if len(params) == 0 {
		return name
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", "))
}
