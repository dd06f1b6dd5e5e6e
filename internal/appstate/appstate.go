// Package appstate derives the shared application-state record from the
// singletons the compiled routes actually use.
package appstate

import (
	"fmt"
	"sort"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/metadata"
	"github.com/vk/planc/internal/plan"
)

// Derive builds the state record for the given set of singleton components.
// The record is shared across concurrent request workers, so every field
// type must be shareable; violations are recorded in the batch and the
// offending field is dropped.
func Derive(db *component.Db, provider metadata.Provider, used map[component.Id]struct{}, batch *diagnostics.Batch) (plan.ApplicationState, error) {
	ids := make([]component.Id, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var state plan.ApplicationState
	for _, id := range ids {
		comp := db.Get(id)
		fieldType := db.OutputType(id)
		if fieldType.IsResult() {
			fieldType = fieldType.OkType()
		}

		shareable, err := provider.Supports(fieldType, metadata.CapabilityShare)
		if err != nil {
			return plan.ApplicationState{}, fmt.Errorf("checking shareability of %s: %w", fieldType, err)
		}
		if !shareable {
			batch.Add(diagnostics.Diagnostic{
				Code:     diagnostics.CodeThreadSafetyViolation,
				Severity: diagnostics.SeverityError,
				Summary:  fmt.Sprintf("singleton %q produces %s, which cannot be shared across request workers", comp.Name, fieldType),
				Help:     fmt.Sprintf("make %s thread-safe, or change %q to request_scoped", fieldType, comp.Name),
				Site:     comp.Site,
			})
			continue
		}
		state.Fields = append(state.Fields, plan.StateField{
			Name:        comp.Name,
			Type:        fieldType.String(),
			Constructor: comp.Name,
		})
	}
	return state, nil
}
