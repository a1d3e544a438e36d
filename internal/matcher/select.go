package matcher

import (
	"medrecords/internal/utils"
	"medrecords/pkg/types"
)

// Strategy records how a provider request was chosen for a document.
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyFaxNumber Strategy = "fax_number"
	StrategyFacility  Strategy = "facility_name"
	StrategyEarliest  Strategy = "earliest_dispatched"
)

// FacilityThreshold is the similarity a provider name needs against a
// facility name found in the document.
const FacilityThreshold = 0.9

// SelectProviderRequest picks which of a patient's awaiting provider requests
// a document answers. Requests whose fax number matches the sender come first
// and the most recently dispatched of them wins, since a provider that was
// faxed again is replying to the newest fax. Failing that, a provider whose
// name matches a facility in the document is used, again most recent first.
// Otherwise the earliest dispatched request is answered first.
func SelectProviderRequest(awaiting []*types.AwaitingProviderRequest, sender string, facilities []string) (*types.AwaitingProviderRequest, Strategy) {
	if len(awaiting) == 0 {
		return nil, StrategyNone
	}

	var bySender []*types.AwaitingProviderRequest
	for _, a := range awaiting {
		if utils.SameFaxNumber(a.FaxNumberUsed, sender) {
			bySender = append(bySender, a)
		}
	}
	if len(bySender) > 0 {
		return mostRecent(bySender), StrategyFaxNumber
	}

	var byFacility []*types.AwaitingProviderRequest
	for _, a := range awaiting {
		for _, f := range facilities {
			if FacilitySimilarity(a.ProviderName, f) >= FacilityThreshold {
				byFacility = append(byFacility, a)
				break
			}
		}
	}
	if len(byFacility) > 0 {
		return mostRecent(byFacility), StrategyFacility
	}

	return earliest(awaiting), StrategyEarliest
}

func mostRecent(prs []*types.AwaitingProviderRequest) *types.AwaitingProviderRequest {
	best := prs[0]
	for _, pr := range prs[1:] {
		if pr.DispatchedAt().After(best.DispatchedAt()) {
			best = pr
		}
	}
	return best
}

func earliest(prs []*types.AwaitingProviderRequest) *types.AwaitingProviderRequest {
	best := prs[0]
	for _, pr := range prs[1:] {
		if pr.DispatchedAt().Before(best.DispatchedAt()) {
			best = pr
		}
	}
	return best
}
