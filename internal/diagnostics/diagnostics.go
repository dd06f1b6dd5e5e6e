// Package diagnostics defines the structured failure reports produced by
// the compiler passes and the batch sink that collects them.
//
// A diagnostic is a value, not an error: per-route failures are recorded
// and compilation continues, so a single run surfaces the full error set.
package diagnostics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2"
)

// Code names one entry of the compiler's failure taxonomy.
type Code string

const (
	CodeInvalidRegistration      Code = "invalid_registration"
	CodeUnknownReference         Code = "unknown_reference"
	CodeMissingConstructor       Code = "missing_constructor"
	CodeAmbiguousConstructor     Code = "ambiguous_constructor"
	CodeCycle                    Code = "cycle"
	CodeUnderconstrainedGenerics Code = "underconstrained_generics"
	CodeBorrowConflict           Code = "borrow_conflict"
	CodeUnreachableErrorBranch   Code = "unreachable_error_branch"
	CodeThreadSafetyViolation    Code = "thread_safety_violation"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Site is the blueprint location a diagnostic points at, normally the
// registration site of the offending component.
type Site struct {
	File   string
	Line   int
	Column int
}

// SiteFromRange converts an HCL source range into a Site.
func SiteFromRange(r hcl.Range) Site {
	return Site{File: r.Filename, Line: r.Start.Line, Column: r.Start.Column}
}

// IsZero reports whether the site carries no location information.
func (s Site) IsZero() bool {
	return s == Site{}
}

func (s Site) String() string {
	if s.IsZero() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
}

// Label attaches an explanation to a secondary location, e.g. one of the
// competing consumers in a borrow conflict.
type Label struct {
	Message string
	Site    Site
}

// Diagnostic is one structured failure report.
type Diagnostic struct {
	Code     Code
	Severity Severity
	// Route names the route/middleware/fallback whose plan failed.
	// Registration-phase diagnostics leave it empty.
	Route   string
	Summary string
	Help    string
	Site    Site
	Related []Label
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s[%s] %s: %s", d.Severity, d.Code, d.Site, d.Summary)
}

// Batch collects diagnostics from every route pipeline of one compiler run.
// Add is safe for concurrent use; everything else expects the per-route
// workers to have finished.
type Batch struct {
	runID string

	mu    sync.Mutex
	diags []Diagnostic
}

// NewBatch creates an empty batch tagged with the compile run id.
func NewBatch(runID string) *Batch {
	return &Batch{runID: runID}
}

// RunID returns the compile run identifier the batch belongs to.
func (b *Batch) RunID() string {
	return b.runID
}

// Add records a diagnostic.
func (b *Batch) Add(d Diagnostic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diags = append(b.diags, d)
}

// Len returns the number of recorded diagnostics.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.diags)
}

// HasErrors reports whether any recorded diagnostic is an error.
func (b *Batch) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// All returns the diagnostics in a stable order: by route, then site, then
// code, then summary. Sorting here (rather than at insertion) keeps Add
// cheap for the concurrent route workers.
func (b *Batch) All() []Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Diagnostic, len(b.diags))
	copy(out, b.diags)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Route != out[j].Route {
			return out[i].Route < out[j].Route
		}
		if out[i].Site != out[j].Site {
			si, sj := out[i].Site, out[j].Site
			if si.File != sj.File {
				return si.File < sj.File
			}
			if si.Line != sj.Line {
				return si.Line < sj.Line
			}
			return si.Column < sj.Column
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Summary < out[j].Summary
	})
	return out
}
