// Package factors holds the concrete factor types composed over the shared
// base behavior. Each type overrides only the capabilities that differ for
// it; everything else comes from the defaults.
package factors

import (
	"context"
	"sort"

	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
)

// Verifier is a factor type that consumes direct user input (a code).
type Verifier interface {
	services.Factor
	Verify(ctx context.Context, userID, input string, bag session.Bag) (bool, error)
}

// Evaluator is a passive factor type judged from request context rather
// than user input (an address, a device fingerprint).
type Evaluator interface {
	services.Factor
	Evaluate(ctx context.Context, userID, contextValue string, bag session.Bag) models.FactorState
}

// Registry indexes the deployment's factor instances by type key.
type Registry struct {
	factors map[string]services.Factor
}

func NewRegistry(factors ...services.Factor) *Registry {
	r := &Registry{factors: make(map[string]services.Factor, len(factors))}
	for _, f := range factors {
		r.factors[f.Type()] = f
	}
	return r
}

// Types returns the registered type keys in stable order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factors))
	for t := range r.factors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Get returns the factor registered for a type key.
func (r *Registry) Get(factorType string) (services.Factor, bool) {
	f, ok := r.factors[factorType]
	return f, ok
}

// CheckCombination asks every member of the proposed combination whether it
// accepts the set. One veto rejects the whole combination.
func (r *Registry) CheckCombination(factorTypes []string) bool {
	for _, t := range factorTypes {
		f, ok := r.factors[t]
		if !ok {
			return false
		}
		if !f.CheckCombination(factorTypes) {
			return false
		}
	}
	return true
}
