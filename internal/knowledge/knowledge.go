// Package knowledge answers directory and corpus lookups with a hybrid
// strategy: a structured relational path first, semantic vector search as the
// fallback, every result tagged with the path that produced it.
package knowledge

import (
	"context"
	"errors"
)

// Source identifies which retrieval path produced a record.
type Source string

const (
	SourceStructured Source = "structured"
	SourceSemantic   Source = "semantic"
)

// ErrNotFound is returned when neither retrieval path produced a result.
var ErrNotFound = errors.New("knowledge: not found")

// Employee is a row in the employee directory.
type Employee struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Title      string `yaml:"title"`
	Department string `yaml:"department"`
	ManagerID  string `yaml:"manager_id"`
	Location   string `yaml:"location"`
}

// FAQ is a question/answer row.
type FAQ struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Category string `yaml:"category"`
}

// Task is a work item as queries return it; Assignee is the resolved
// directory name when the assignee is known.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
	Status   string `json:"status"`
	DueDate  string `json:"due_date,omitempty"`
}

// Profile is the resolver's employee answer, normalized across both paths.
// Semantic hits may carry only a name, email and summary.
type Profile struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Title      string   `json:"title,omitempty"`
	Department string   `json:"department,omitempty"`
	Location   string   `json:"location,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Manager    *Profile `json:"manager,omitempty"`
	Source     Source   `json:"source"`
}

// Result is one ranked corpus search hit.
type Result struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
	Source   Source  `json:"source"`
}

// Chunk is one indexed corpus document as the semantic store returns it.
type Chunk struct {
	ID        string
	Title     string
	Content   string
	Category  string
	Name      string
	Email     string
	Certainty float64
}

// Directory is the structured query path.
type Directory interface {
	EmployeeByID(ctx context.Context, id string) (*Employee, error)
	EmployeeByEmail(ctx context.Context, email string) (*Employee, error)
	SearchEmployees(ctx context.Context, key string) ([]Employee, error)
	SearchFAQs(ctx context.Context, query string, limit int) ([]FAQ, error)
	TasksFor(ctx context.Context, assigneeID, status string) ([]Task, error)
}

// Searcher is the semantic fallback path.
type Searcher interface {
	Search(ctx context.Context, query, category string, limit int) ([]Chunk, error)
}
