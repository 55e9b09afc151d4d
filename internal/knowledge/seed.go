package knowledge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML shape for importing directory data.
type Seed struct {
	Employees []Employee `yaml:"employees"`
	FAQs      []FAQ      `yaml:"faqs"`
	Tasks     []SeedTask `yaml:"tasks"`
}

// SeedTask references its assignee by directory id.
type SeedTask struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	AssigneeID string `yaml:"assignee_id"`
	Status     string `yaml:"status"`
	DueDate    string `yaml:"due_date"`
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// Import upserts everything in the seed and reports the row count.
func (s *DirectoryStore) Import(ctx context.Context, seed *Seed) (int, error) {
	n := 0
	for _, e := range seed.Employees {
		if err := s.UpsertEmployee(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	for _, f := range seed.FAQs {
		if err := s.UpsertFAQ(ctx, f); err != nil {
			return n, err
		}
		n++
	}
	for _, t := range seed.Tasks {
		if err := s.UpsertTask(ctx, t.ID, t.Title, t.AssigneeID, t.Status, t.DueDate); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
