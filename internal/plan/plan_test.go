package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_RendersStateRoutesAndBranches(t *testing.T) {
	t.Parallel()

	p := &Plan{
		RunID: "ignored-by-format",
		State: ApplicationState{Fields: []StateField{
			{Name: "pool", Type: "Pool", Constructor: "pool"},
		}},
		Routes: []RoutePlan{{
			Route:   "GET /home",
			Handler: "home",
			Steps: []Step{
				{Kind: StepInput, Binding: "v0", Label: "IncomingRequest"},
				{Kind: StepBind, Binding: "v1", Label: "auth", Args: []Arg{{Binding: "v0", Borrow: true}}},
				{
					Kind: StepBranch,
					On:   "v1",
					Ok: []Step{
						{Kind: StepBind, Binding: "v3", Label: "auth.ok", Args: []Arg{{Binding: "v1"}}},
						{Kind: StepBind, Binding: "v4", Label: "home", Async: true, Args: []Arg{{Binding: "v3"}}},
					},
					Err: []Step{
						{Kind: StepBind, Binding: "v2", Label: "auth.err", Args: []Arg{{Binding: "v1"}}},
					},
				},
			},
		}},
	}

	want := `state {
  pool: Pool = pool()
}
route "GET /home" {
  v0 = input IncomingRequest
  v1 = call auth(&v0)
  match v1 {
    ok:
      v3 = call auth.ok(v1)
      v4 = await home(v3)
    err:
      v2 = call auth.err(v1)
  }
}
`
	assert.Equal(t, want, p.Format())
}

func TestSort_IsCanonical(t *testing.T) {
	t.Parallel()

	p := &Plan{
		State: ApplicationState{Fields: []StateField{{Name: "z"}, {Name: "a"}}},
		Routes: []RoutePlan{
			{Route: "GET /b"},
			{Route: "GET /a"},
		},
	}
	p.Sort()
	assert.Equal(t, "GET /a", p.Routes[0].Route)
	assert.Equal(t, "a", p.State.Fields[0].Name)
}
