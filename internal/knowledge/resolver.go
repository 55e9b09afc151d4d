package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// categoryEmployees is the corpus category holding directory-derived chunks.
const categoryEmployees = "employees"

// Resolver is the hybrid lookup: structured path first, semantic fallback.
// Infrastructure failures on either path degrade to a miss; only context
// cancellation propagates to the caller.
type Resolver struct {
	directory    Directory
	searcher     Searcher
	cache        *QueryCache
	placeholders map[string]Profile
	topK         int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSearcher enables the semantic fallback path.
func WithSearcher(s Searcher) ResolverOption {
	return func(r *Resolver) { r.searcher = s }
}

// WithCache enables the semantic query cache.
func WithCache(c *QueryCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithPlaceholder registers a well-known stand-in (a role, not a person) that
// resolves directly, bypassing both retrieval paths. Matched by id or name.
func WithPlaceholder(id, name, email string) ResolverOption {
	return func(r *Resolver) {
		stub := Profile{ID: id, Name: name, Email: email, Source: SourceStructured}
		r.placeholders[normalizeKey(id)] = stub
		if name != "" {
			r.placeholders[normalizeKey(name)] = stub
		}
	}
}

// WithTopK sets the default result count for searches.
func WithTopK(k int) ResolverOption {
	return func(r *Resolver) {
		if k > 0 {
			r.topK = k
		}
	}
}

func NewResolver(directory Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory:    directory,
		placeholders: make(map[string]Profile),
		topK:         defaultTopK,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveEmployee finds one employee by id, email or name. Placeholder keys
// answer directly; otherwise the structured path runs first and the semantic
// path only on a structured miss. Wraps ErrNotFound when both paths miss.
func (r *Resolver) ResolveEmployee(ctx context.Context, key string) (*Profile, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty employee key: %w", ErrNotFound)
	}

	if stub, ok := r.placeholders[normalizeKey(key)]; ok {
		p := stub
		return &p, nil
	}

	if emp := r.structuredLookup(ctx, key); emp != nil {
		return r.profileFromEmployee(ctx, emp), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if p := r.semanticProfile(ctx, key); p != nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return nil, fmt.Errorf("employee %q: %w", key, ErrNotFound)
}

// structuredLookup returns nil on miss or infrastructure error; errors are
// logged and absorbed so the semantic path gets its turn.
func (r *Resolver) structuredLookup(ctx context.Context, key string) *Employee {
	var (
		emp *Employee
		err error
	)
	switch {
	case strings.Contains(key, "@"):
		emp, err = r.directory.EmployeeByEmail(ctx, key)
	case strings.HasPrefix(key, "emp_"):
		emp, err = r.directory.EmployeeByID(ctx, key)
	default:
		var matches []Employee
		matches, err = r.directory.SearchEmployees(ctx, key)
		if err == nil && len(matches) > 0 {
			emp = &matches[0]
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("knowledge: structured lookup %q: %v", key, err)
	}
	return emp
}

func (r *Resolver) profileFromEmployee(ctx context.Context, e *Employee) *Profile {
	p := &Profile{
		ID:         e.ID,
		Name:       e.Name,
		Email:      e.Email,
		Title:      e.Title,
		Department: e.Department,
		Location:   e.Location,
		Source:     SourceStructured,
	}
	if e.ManagerID != "" {
		p.Manager = r.resolveManager(ctx, e.ManagerID)
	}
	return p
}

// resolveManager turns a manager id into a profile. Placeholder ids return
// their stub; directory misses leave the reference nil. The manager's own
// manager is not chased.
func (r *Resolver) resolveManager(ctx context.Context, managerID string) *Profile {
	if stub, ok := r.placeholders[normalizeKey(managerID)]; ok {
		p := stub
		return &p
	}
	m, err := r.directory.EmployeeByID(ctx, managerID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("knowledge: manager %q: %v", managerID, err)
		}
		return nil
	}
	return &Profile{
		ID:         m.ID,
		Name:       m.Name,
		Email:      m.Email,
		Title:      m.Title,
		Department: m.Department,
		Location:   m.Location,
		Source:     SourceStructured,
	}
}

func (r *Resolver) semanticProfile(ctx context.Context, key string) *Profile {
	if r.searcher == nil {
		return nil
	}
	chunks, err := r.searcher.Search(ctx, key, categoryEmployees, 1)
	if err != nil {
		log.Printf("knowledge: semantic employee lookup %q: %v", key, err)
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}
	c := chunks[0]
	name := c.Name
	if name == "" {
		name = c.Title
	}
	if name == "" {
		return nil
	}
	return &Profile{Name: name, Email: c.Email, Summary: c.Content, Source: SourceSemantic}
}

// Search answers a corpus query. FAQ rows match first (unless the caller
// pinned a non-FAQ category); otherwise cached or live semantic results.
// Returns an empty list rather than an error when both paths fail.
func (r *Resolver) Search(ctx context.Context, query string, limit int, category string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = r.topK
	}

	if category == "" || category == "faq" {
		faqs, err := r.directory.SearchFAQs(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("knowledge: faq search %q: %v", query, err)
		}
		if len(faqs) > 0 {
			results := make([]Result, 0, len(faqs))
			for _, f := range faqs {
				results = append(results, Result{
					ID:       f.ID,
					Title:    f.Question,
					Content:  f.Answer,
					Category: f.Category,
					Score:    1,
					Source:   SourceStructured,
				})
			}
			return results, nil
		}
	}

	if r.searcher == nil {
		return nil, nil
	}

	key := CacheKey(query, category, limit)
	if cached, ok := r.cache.Get(ctx, key); ok {
		return cached, nil
	}

	chunks, err := r.searcher.Search(ctx, query, category, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("knowledge: semantic search %q: %v", query, err)
		return nil, nil
	}
	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, Result{
			ID:       c.ID,
			Title:    c.Title,
			Content:  c.Content,
			Category: c.Category,
			Score:    c.Certainty,
			Source:   SourceSemantic,
		})
	}
	r.cache.Put(ctx, key, results)
	return results, nil
}

// ListTasks lists tasks for an assignee given by id, email or name. An
// unresolvable assignee yields an empty list; the directory query itself may
// error.
func (r *Resolver) ListTasks(ctx context.Context, assignee, status string) ([]Task, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return r.directory.TasksFor(ctx, "", status)
	}
	emp := r.structuredLookup(ctx, assignee)
	if emp == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	return r.directory.TasksFor(ctx, emp.ID, status)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
