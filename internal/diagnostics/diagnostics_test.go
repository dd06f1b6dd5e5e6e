package diagnostics

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_SortsDeterministically(t *testing.T) {
	t.Parallel()

	b := NewBatch("test-run")
	b.Add(Diagnostic{Code: CodeCycle, Route: "GET /b", Summary: "cycle"})
	b.Add(Diagnostic{Code: CodeMissingConstructor, Route: "GET /a", Summary: "missing"})
	b.Add(Diagnostic{Code: CodeBorrowConflict, Route: "GET /a", Summary: "conflict"})

	all := b.All()
	require.Len(t, all, 3)
	assert.Equal(t, "GET /a", all[0].Route)
	assert.Equal(t, "GET /a", all[1].Route)
	assert.Equal(t, "GET /b", all[2].Route)
	// Same route and site: ordered by code.
	assert.Equal(t, CodeBorrowConflict, all[0].Code)
	assert.Equal(t, CodeMissingConstructor, all[1].Code)
}

func TestBatch_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	b := NewBatch("test-run")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(Diagnostic{Code: CodeCycle, Summary: "x"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, b.Len())
	assert.True(t, b.HasErrors())
}

func TestBatch_HasErrorsIgnoresWarnings(t *testing.T) {
	t.Parallel()

	b := NewBatch("test-run")
	b.Add(Diagnostic{Code: CodeThreadSafetyViolation, Severity: SeverityWarning, Summary: "w"})
	assert.False(t, b.HasErrors())
}

func TestSiteFromRange(t *testing.T) {
	t.Parallel()

	s := SiteFromRange(hcl.Range{
		Filename: "app.hcl",
		Start:    hcl.Pos{Line: 3, Column: 7},
	})
	assert.Equal(t, "app.hcl:3:7", s.String())
	assert.False(t, s.IsZero())
	assert.Equal(t, "<unknown>", Site{}.String())
}

func TestRender(t *testing.T) {
	t.Parallel()

	b := NewBatch("run-1")
	b.Add(Diagnostic{
		Code:    CodeMissingConstructor,
		Route:   "GET /users",
		Summary: "no constructor for `DbPool`",
		Help:    "register a constructor for `DbPool`",
		Site:    Site{File: "app.hcl", Line: 10, Column: 1},
		Related: []Label{{Message: "requested by `get_users`", Site: Site{File: "app.hcl", Line: 20, Column: 1}}},
	})

	var buf bytes.Buffer
	Render(&buf, b, false)
	out := buf.String()
	assert.Contains(t, out, `error[missing_constructor] route "GET /users"`)
	assert.Contains(t, out, "--> app.hcl:10:1")
	assert.Contains(t, out, "note: requested by `get_users` (app.hcl:20:1)")
	assert.Contains(t, out, "help: register a constructor for `DbPool`")
	assert.Contains(t, out, "1 diagnostic(s) emitted (run run-1)")
	assert.False(t, strings.Contains(out, "\x1b["))

	buf.Reset()
	Render(&buf, b, true)
	assert.Contains(t, buf.String(), "\x1b[31m")
}
