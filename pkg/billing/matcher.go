package billing

import (
	"math/big"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// Matcher evaluates an ordered, first-match-wins rule table against an
// operation name. Built-in free operations are always consulted first,
// ahead of any caller-supplied rule, so a deployment cannot accidentally
// start charging for discovery/health/recovery/commit.
type Matcher struct {
	rules []model.BillingRule
}

// New builds a Matcher from caller rules, prepended with the built-in
// free-operation rules.
func New(rules ...model.BillingRule) *Matcher {
	m := &Matcher{}
	m.rules = append(m.rules, BuiltinFreeOperations...)
	m.rules = append(m.rules, rules...)
	return m
}

// Match returns the first rule whose pattern matches operation, or false
// if no rule matches. Evaluate rejects an unmatched operation with
// BILLING_CONFIG_ERROR.
func (m *Matcher) Match(operation string) (model.BillingRule, bool) {
	for _, r := range m.rules {
		if matchesPattern(r.Pattern, operation) {
			return r, true
		}
	}
	return model.BillingRule{}, false
}

// Evaluate computes the USD cost of invoking operation given a unit count
// (ignored for fixed-price rules). Free and none-strategy rules cost
// zero. An operation with no matching rule is rejected as
// BILLING_CONFIG_ERROR rather than silently defaulting to free or paid.
func (m *Matcher) Evaluate(operation string, units uint64) (model.Cost, model.BillingRule, error) {
	rule, ok := m.Match(operation)
	if !ok {
		return model.Cost{}, model.BillingRule{}, errs.New(errs.BillingConfigError, "no billing rule matches operation: "+operation)
	}
	if !rule.PaymentRequired {
		return model.Cost{USDCost: big.NewInt(0)}, rule, nil
	}

	switch rule.Strategy {
	case model.StrategyFixed:
		return model.Cost{USDCost: new(big.Int).Set(rule.UnitPriceUSD)}, rule, nil
	case model.StrategyPerUnit:
		cost := new(big.Int).Mul(rule.UnitPriceUSD, new(big.Int).SetUint64(units))
		return model.Cost{USDCost: cost}, rule, nil
	case model.StrategyFree:
		return model.Cost{USDCost: big.NewInt(0)}, rule, nil
	default:
		return model.Cost{}, model.BillingRule{}, errs.New(errs.BillingConfigError, "unknown billing strategy for rule "+rule.ID)
	}
}

// IsAdminOnly reports whether operation's matched rule requires an
// admin-listed caller (spec §4.10 admin-gated operations).
func (m *Matcher) IsAdminOnly(operation string) bool {
	rule, ok := m.Match(operation)
	return ok && rule.AdminOnly
}
