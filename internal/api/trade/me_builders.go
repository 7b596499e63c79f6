package trade

import (
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
)

func BuildAccountDTO(a trades.Account) AccountDTO {
	return AccountDTO{
		TradeID:      a.TradeID,
		BusinessName: a.BusinessName,
		ContactName:  a.ContactName,
		Email:        a.Email,
		Phone:        a.Phone,
		Trade:        a.Trade,
		Postcode:     a.Postcode,
		RegisteredAt: a.RegisteredAt,
	}
}

func BuildPlanDTO(catalog *plans.Catalog, name string) *PlanDTO {
	name, ok := plans.Normalize(name)
	if !ok {
		return nil
	}
	dto := &PlanDTO{Key: name, Credits: plans.CreditsFor(name)}
	if p, ok := catalog.ByName(name); ok {
		dto.StripePriceID = p.StripePriceID
	}
	return dto
}

func BuildAccessDTO(status string) AccessDTO {
	state := trades.ComputeAccessState(status)
	return AccessDTO{
		State:        string(state),
		Capabilities: trades.CapabilitiesFor(state),
	}
}
