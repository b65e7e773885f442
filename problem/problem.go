// Package problem holds the read-only problem definitions that sandboxes are
// provisioned from and submissions are graded against.
package problem

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when a problem id is unknown to the catalog.
var ErrNotFound = errors.New("problem not found")

// Kind is the shape contract of an expected output.
type Kind string

// Expected output kinds
const (
	KindTable       Kind = "table"
	KindSingleValue Kind = "single_value"
	KindColumn      Kind = "column"
	KindRow         Kind = "row"
	KindCount       Kind = "count"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTable, KindSingleValue, KindColumn, KindRow, KindCount:
		return true
	}
	return false
}

// Column is one declared column of a sample table.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Table is a sample table with its seed rows.
type Table struct {
	Name    string           `yaml:"name" json:"name"`
	Columns []Column         `yaml:"columns" json:"columns"`
	Rows    []map[string]any `yaml:"rows" json:"rows"`
}

// ExpectedOutput describes what a correct submission returns. The shape of
// Value depends on Kind: a scalar for single_value and count, a list of
// scalars for column, a mapping for row, a list of mappings for table.
type ExpectedOutput struct {
	Kind  Kind `yaml:"kind" json:"kind"`
	Value any  `yaml:"value" json:"value"`
}

// Problem is immutable once published.
type Problem struct {
	ID       string         `yaml:"id" json:"id"`
	Title    string         `yaml:"title" json:"title"`
	Question string         `yaml:"question" json:"question"`
	Tables   []Table        `yaml:"tables" json:"tables"`
	Expected ExpectedOutput `yaml:"expected" json:"expected"`
}

// Catalog looks problems up by id.
type Catalog interface {
	Problem(ctx context.Context, id string) (*Problem, error)
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	// declared types are spliced into DDL, so only type-name characters pass
	typePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?( ?\[\])?$`)
)

// Validate checks the parts of a problem that end up in generated SQL.
func (p *Problem) Validate() error {
	if p.ID == "" {
		return errors.New("problem id is required")
	}
	if !p.Expected.Kind.Valid() {
		return fmt.Errorf("problem %s: unsupported expected kind %q", p.ID, p.Expected.Kind)
	}
	seen := make(map[string]bool, len(p.Tables))
	for _, tbl := range p.Tables {
		if !identPattern.MatchString(tbl.Name) {
			return fmt.Errorf("problem %s: invalid table name %q", p.ID, tbl.Name)
		}
		if seen[tbl.Name] {
			return fmt.Errorf("problem %s: duplicate table %q", p.ID, tbl.Name)
		}
		seen[tbl.Name] = true
		if len(tbl.Columns) == 0 {
			return fmt.Errorf("problem %s: table %q has no columns", p.ID, tbl.Name)
		}
		cols := make(map[string]bool, len(tbl.Columns))
		for _, col := range tbl.Columns {
			if !identPattern.MatchString(col.Name) {
				return fmt.Errorf("problem %s: invalid column name %q in table %q", p.ID, col.Name, tbl.Name)
			}
			if !typePattern.MatchString(col.Type) {
				return fmt.Errorf("problem %s: invalid type %q for column %q", p.ID, col.Type, col.Name)
			}
			cols[col.Name] = true
		}
		for i, row := range tbl.Rows {
			for name := range row {
				if !cols[name] {
					return fmt.Errorf("problem %s: row %d of table %q has undeclared column %q", p.ID, i+1, tbl.Name, name)
				}
			}
		}
	}
	return nil
}
