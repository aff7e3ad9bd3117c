// Package enrich attaches derived attributes to canonical leads.
package enrich

import (
	"context"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Adapter derives one group of enrichment fields for a lead. Enrich may
// modify only the fields the adapter owns. On error the runner discards
// every change the adapter made.
type Adapter interface {
	Name() string
	Enrich(ctx context.Context, lead *model.CanonicalLead) error
}
