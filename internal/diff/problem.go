package diff

import (
	"fmt"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/schema"
)

// ProblemType names a category of schema discrepancy.
type ProblemType string

const (
	MissingTables  ProblemType = "missingtables"
	ExtraTables    ProblemType = "extratables"
	MissingColumns ProblemType = "missingcolumns"
	ExtraColumns   ProblemType = "extracolumns"
	ChangedColumns ProblemType = "changedcolumns"
	MissingIndexes ProblemType = "missingindexes"
	ExtraIndexes   ProblemType = "extraindexes"
)

// Issue narrows a changedcolumns problem to the mismatched attribute.
type Issue string

const (
	IssueType    Issue = "type"
	IssueNull    Issue = "null"
	IssueLength  Issue = "length"
	IssueDefault Issue = "default"
)

// Status is the report severity of a problem.
type Status string

const (
	StatusOK      Status = "OK"
	StatusInfo    Status = "INFO"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// Safety is the ordered classification of how dangerous a repair is.
type Safety int

const (
	Safe Safety = iota
	DBIndex
	Risky
	Unsafe
	Unfixable
)

var safetyNames = map[Safety]string{
	Safe:      "safe",
	DBIndex:   "dbindex",
	Risky:     "risky",
	Unsafe:    "unsafe",
	Unfixable: "unfixable",
}

func (s Safety) String() string { return safetyNames[s] }

// ParseSafety resolves a safety name.
func ParseSafety(name string) (Safety, error) {
	for s, n := range safetyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown safety level %q", name)
}

// DataFix tags a data transformation required before a column change.
type DataFix string

const (
	FixNullDefault DataFix = "nulldefault"
	FixTruncate    DataFix = "truncate"
)

// Problem is one discrepancy between the declared and the live schema.
type Problem struct {
	Table  string
	Type   ProblemType
	Issue  Issue
	Desc   string
	Status Status
	Safety Safety
	Fixes  []DataFix

	// TableDef is set for missingtables.
	TableDef *schema.Table
	// Field is the declared field for missingcolumns/changedcolumns.
	Field *schema.Field
	// DBField is the live column for changedcolumns/extracolumns.
	DBField *adapter.Column
	// Index is the declared (or synthesized) index for index problems.
	Index *schema.Index
}

// HasFix reports whether the problem carries the given data-fix tag.
func (p *Problem) HasFix(fix DataFix) bool {
	for _, f := range p.Fixes {
		if f == fix {
			return true
		}
	}
	return false
}

// Result is the ordered outcome of a schema check: problems per table, in
// discovery order.
type Result struct {
	Order    []string
	Problems map[string][]*Problem
}

func newResult() *Result {
	return &Result{Problems: make(map[string][]*Problem)}
}

func (r *Result) add(p *Problem) {
	if _, ok := r.Problems[p.Table]; !ok {
		r.Order = append(r.Order, p.Table)
	}
	r.Problems[p.Table] = append(r.Problems[p.Table], p)
}

// Empty reports whether the check found nothing.
func (r *Result) Empty() bool { return len(r.Problems) == 0 }

// Total is the number of problems across all tables.
func (r *Result) Total() int {
	n := 0
	for _, ps := range r.Problems {
		n += len(ps)
	}
	return n
}

// All returns every problem in table discovery order.
func (r *Result) All() []*Problem {
	var out []*Problem
	for _, table := range r.Order {
		out = append(out, r.Problems[table]...)
	}
	return out
}

// Descriptions reduces the result to its summary form.
func (r *Result) Descriptions() map[string][]string {
	out := make(map[string][]string, len(r.Problems))
	for table, ps := range r.Problems {
		for _, p := range ps {
			out[table] = append(out[table], p.Desc)
		}
	}
	return out
}

// Filter projects the problems of one type whose safety is in levels. It is
// a pure projection: no records are added, merged or mutated.
func Filter(problems []*Problem, typ ProblemType, levels map[Safety]bool) []*Problem {
	var out []*Problem
	for _, p := range problems {
		if p.Type == typ && levels[p.Safety] {
			out = append(out, p)
		}
	}
	return out
}
