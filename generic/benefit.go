/*
benefit.go - Benefit type registration and lookup

PURPOSE:
  Every benefit an assignment can carry (housing, transportation, security
  deposit, flight agreement, bus card) is described by a Descriptor that
  tells the orchestrator where the amount for a billing window comes from.
  Adding a benefit is a registration, not a new branch in the orchestrator.

AMOUNT SOURCES:
  SourceAssignment: flat per-window charge read from the assignment
                    (rent, transport amount, bus card amount)
  SourceQueue:      drawn from the pending-deduction queue fed by a
                    deposit's installment schedule

USAGE:
  d, err := generic.LookupBenefit("bus_card")
  if d.Source == generic.SourceAssignment {
      amount := d.AssignmentAmount(assignment)
  }

SEE ALSO:
  - billing/orchestrator.go: Dispatches on Descriptor.Source
  - deposit/service.go: Feeds the queue for SourceQueue benefits
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

type BenefitType string

const (
	BenefitHousing         BenefitType = "housing"
	BenefitTransportation  BenefitType = "transportation"
	BenefitSecurityDeposit BenefitType = "security_deposit"
	BenefitFlightAgreement BenefitType = "flight_agreement"
	BenefitBusCard         BenefitType = "bus_card"
)

type AmountSource string

const (
	SourceAssignment AmountSource = "assignment"
	SourceQueue      AmountSource = "queue"
)

// Descriptor describes how a benefit is billed.
type Descriptor struct {
	Type   BenefitType
	Label  string
	Order  int // display and processing order
	Source AmountSource

	// AssignmentAmount resolves the per-window charge. Only set for SourceAssignment.
	AssignmentAmount func(Assignment) Amount
}

var (
	benefitRegistry = make(map[BenefitType]Descriptor)
	registryMu      sync.RWMutex
)

func init() {
	RegisterBenefit(Descriptor{
		Type: BenefitHousing, Label: "Housing", Order: 1, Source: SourceAssignment,
		AssignmentAmount: func(a Assignment) Amount { return a.RentAmount },
	})
	RegisterBenefit(Descriptor{
		Type: BenefitTransportation, Label: "Transportation", Order: 2, Source: SourceAssignment,
		AssignmentAmount: func(a Assignment) Amount { return a.TransportAmount },
	})
	RegisterBenefit(Descriptor{
		Type: BenefitSecurityDeposit, Label: "Security Deposit", Order: 3, Source: SourceQueue,
	})
	RegisterBenefit(Descriptor{
		Type: BenefitFlightAgreement, Label: "Flight Agreement", Order: 4, Source: SourceQueue,
	})
	RegisterBenefit(Descriptor{
		Type: BenefitBusCard, Label: "Bus Card", Order: 5, Source: SourceAssignment,
		AssignmentAmount: func(a Assignment) Amount { return a.BusCardAmount },
	})
}

// RegisterBenefit adds or replaces a benefit descriptor.
func RegisterBenefit(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	benefitRegistry[d.Type] = d
}

// LookupBenefit finds a registered benefit descriptor.
func LookupBenefit(t BenefitType) (Descriptor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := benefitRegistry[t]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownBenefit, t)
	}
	return d, nil
}

// ParseBenefitType validates a benefit type string against the registry.
func ParseBenefitType(s string) (BenefitType, error) {
	d, err := LookupBenefit(BenefitType(s))
	if err != nil {
		return "", err
	}
	return d.Type, nil
}

// Benefits returns all registered benefit types in processing order.
func Benefits() []BenefitType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	descs := make([]Descriptor, 0, len(benefitRegistry))
	for _, d := range benefitRegistry {
		descs = append(descs, d)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Order < descs[j].Order })
	out := make([]BenefitType, len(descs))
	for i, d := range descs {
		out[i] = d.Type
	}
	return out
}
