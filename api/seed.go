/*
seed.go - Demo fixture loader

PURPOSE:
  Resets the store and loads the embedded demo fixture: six contacts,
  four policies (one per billing schedule) and one payment.

HOW SEEDING WORKS:
 1. Reset the store (drop every record)
 2. In one transaction: save contacts, create each policy (which
    generates its invoices) and record payments

USAGE VIA API:

	POST /api/admin/seed

NOTE:

	Seeding resets the store. Only use in development/demo environments.

SEE ALSO:
  - factory/seed.go: Fixture format and loader
  - factory/default.json: The fixture
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/policy-billing/factory"
)

// Seed resets the store and loads the demo fixture.
func (h *Handler) Seed(ctx context.Context) (factory.LoadResult, error) {
	seed, err := factory.Default()
	if err != nil {
		return factory.LoadResult{}, err
	}
	if err := h.Store.Reset(ctx); err != nil {
		return factory.LoadResult{}, fmt.Errorf("reset store: %w", err)
	}
	result, err := factory.Load(ctx, h.Store, seed, h.options...)
	if err != nil {
		return result, err
	}
	h.Logger.Info("demo fixture loaded",
		zap.Int("contacts", result.Contacts),
		zap.Int("policies", len(result.Policies)),
		zap.Int("payments", result.Payments))
	return result, nil
}

// SeedDemo handles POST /api/admin/seed.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	result, err := h.Seed(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to load demo fixture", err)
		return
	}
	writeJSON(w, http.StatusOK, SeedResponse{
		Status:   "ok",
		Contacts: result.Contacts,
		Policies: len(result.Policies),
		Payments: result.Payments,
	})
}
