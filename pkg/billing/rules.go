// Package billing implements the billing rule matcher (spec §4.10): a
// first-match-wins ordered list of rules mapping operation names to a
// payment strategy, generalizing the teacher's strategy-selection pattern
// (pkg/payment/strategy.go PaymentStrategy selection) from a single
// global strategy into a per-operation rule table.
package billing

import (
	"math/big"
	"strings"

	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// BuiltinFreeOperations are exempt from payment by default (spec §4.10):
// discovery, health, recovery and commit must remain reachable even when
// a client has no funded channel.
var BuiltinFreeOperations = []model.BillingRule{
	{ID: "builtin.discovery", Pattern: "nuwa.discovery", PaymentRequired: false, Strategy: model.StrategyFree},
	{ID: "builtin.health", Pattern: "nuwa.health", PaymentRequired: false, Strategy: model.StrategyFree},
	{ID: "builtin.recovery", Pattern: "nuwa.recovery", PaymentRequired: false, Strategy: model.StrategyFree},
	{ID: "builtin.commit", Pattern: "nuwa.commit", PaymentRequired: false, Strategy: model.StrategyFree},
	{ID: "builtin.subrav.query", Pattern: "nuwa.subrav.query", PaymentRequired: false, Strategy: model.StrategyFree},
	{
		ID: "builtin.admin", Pattern: "nuwa.admin.*", PaymentRequired: false,
		Strategy: model.StrategyFree, AdminOnly: true, AuthRequired: true,
	},
}

// FixedRule builds a fixed-price rule: every match costs unitPriceUSD
// regardless of any request-specific unit count.
func FixedRule(id, pattern string, unitPriceUSD *big.Int) model.BillingRule {
	return model.BillingRule{ID: id, Pattern: pattern, PaymentRequired: true, Strategy: model.StrategyFixed, UnitPriceUSD: unitPriceUSD}
}

// PerUnitRule builds a per-unit rule: cost scales with a caller-supplied
// unit count (e.g. tokens generated, bytes transferred).
func PerUnitRule(id, pattern string, unitPriceUSD *big.Int) model.BillingRule {
	return model.BillingRule{ID: id, Pattern: pattern, PaymentRequired: true, Strategy: model.StrategyPerUnit, UnitPriceUSD: unitPriceUSD}
}

// matchesPattern reports whether operation matches pattern. A pattern
// ending in ".*" matches any operation sharing its prefix; otherwise the
// match is exact.
func matchesPattern(pattern, operation string) bool {
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(operation, prefix)
	}
	return pattern == operation
}
