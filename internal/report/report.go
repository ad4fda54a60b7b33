// Package report renders a schema check result as a machine-readable JSON
// document, for pipelines that consume the checker's findings.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schemalign/schemalign/internal/diff"
)

// CheckReport is the serialized outcome of one schema check.
type CheckReport struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	Database    string         `json:"database"`
	Dialect     string         `json:"dialect"`
	Clean       bool           `json:"clean"`
	Problems    []TableSection `json:"problems,omitempty"`
	Resolved    int            `json:"resolved,omitempty"`
}

// TableSection groups the findings of one table.
type TableSection struct {
	Table    string    `json:"table"`
	Findings []Finding `json:"findings"`
}

// Finding is one discrepancy.
type Finding struct {
	Type        string   `json:"type"`
	Issue       string   `json:"issue,omitempty"`
	Status      string   `json:"status"`
	Safety      string   `json:"safety"`
	Description string   `json:"description"`
	Fixes       []string `json:"fixes,omitempty"`
}

// Generate builds a report from a check result.
func Generate(version, database, dialect string, result *diff.Result, resolved int) *CheckReport {
	r := &CheckReport{
		Version:     version,
		GeneratedAt: time.Now().UTC(),
		Database:    database,
		Dialect:     dialect,
		Clean:       result.Empty(),
		Resolved:    resolved,
	}
	for _, table := range result.Order {
		section := TableSection{Table: table}
		for _, p := range result.Problems[table] {
			f := Finding{
				Type:        string(p.Type),
				Issue:       string(p.Issue),
				Status:      string(p.Status),
				Safety:      p.Safety.String(),
				Description: p.Desc,
			}
			for _, fix := range p.Fixes {
				f.Fixes = append(f.Fixes, string(fix))
			}
			section.Findings = append(section.Findings, f)
		}
		r.Problems = append(r.Problems, section)
	}
	return r
}

// WriteJSON writes the report to the given path.
func WriteJSON(r *CheckReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
