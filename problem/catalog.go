package problem

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// MemoryCatalog serves problems from memory. It is safe for concurrent reads.
type MemoryCatalog struct {
	problems map[string]*Problem
}

// NewMemoryCatalog validates and indexes the given problems.
func NewMemoryCatalog(problems ...*Problem) (*MemoryCatalog, error) {
	c := &MemoryCatalog{problems: make(map[string]*Problem, len(problems))}
	for _, p := range problems {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.problems[p.ID]; dup {
			return nil, fmt.Errorf("duplicate problem id %q", p.ID)
		}
		c.problems[p.ID] = p
	}
	return c, nil
}

// Problem returns the problem with the given id.
func (c *MemoryCatalog) Problem(_ context.Context, id string) (*Problem, error) {
	p, ok := c.problems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Len returns the number of problems in the catalog.
func (c *MemoryCatalog) Len() int { return len(c.problems) }

// Problems returns every problem ordered by id.
func (c *MemoryCatalog) Problems() []*Problem {
	out := make([]*Problem, 0, len(c.problems))
	for _, p := range c.problems {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type problemSet struct {
	Problems []*Problem `yaml:"problems"`
}

// LoadFile reads a YAML problem set.
func LoadFile(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read problem set: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML problem set.
func Parse(data []byte) (*MemoryCatalog, error) {
	var set problemSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode problem set: %w", err)
	}
	return NewMemoryCatalog(set.Problems...)
}
