package session

import (
	"github.com/treyhollis/factorgate/internal/models"
)

const stateKeyPrefix = "factor:state:"

func stateKey(factorType string) string {
	return stateKeyPrefix + factorType
}

// ReadState returns the session's verification state for a factor type,
// or StateUnknown when no state was ever written.
func ReadState(bag Bag, factorType string) models.FactorState {
	v, ok := bag.Get(stateKey(factorType))
	if !ok {
		return models.StateUnknown
	}
	return models.FactorState(v)
}

// WriteState stores newState in the session slot for factorType.
//
// A slot holding StateFail is absorbing: the write is rejected and false is
// returned. This is the guard that stops an attacker from retrying past a
// recorded failure within one session. Every other transition is caller
// policy, not enforced here.
func WriteState(bag Bag, factorType string, newState models.FactorState) bool {
	if ReadState(bag, factorType) == models.StateFail {
		return false
	}
	bag.Set(stateKey(factorType), string(newState))
	return true
}

// ClearState removes the session slot for factorType, returning it to
// StateUnknown. Rejected while the slot holds StateFail.
func ClearState(bag Bag, factorType string) bool {
	if ReadState(bag, factorType) == models.StateFail {
		return false
	}
	bag.Delete(stateKey(factorType))
	return true
}
