// Package commission computes platform fees for escrow transactions.
//
// All functions are pure: no I/O, no clock, deterministic for the same
// inputs. Amounts are returned rounded to 2 decimal places, half away
// from zero, matching invoice line items.
package commission

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)

	// serviceFeeRate and serviceFeeFloor reproduce the marketplace fee
	// schedule: 2.5% of the vehicle price, never less than 25.00.
	serviceFeeRate  = decimal.RequireFromString("2.5")
	serviceFeeFloor = decimal.RequireFromString("25.00")

	// dealerRate applies when a dealer brokered the sale.
	dealerRate = decimal.RequireFromString("3.0")
)

// Calculate returns the platform commission for the given amount and
// percentage rate: round(amount * ratePercent / 100, 2).
func Calculate(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

// ServiceFee returns the buyer-facing service fee for an amount:
// 2.5% with a 25.00 floor.
func ServiceFee(amount decimal.Decimal) decimal.Decimal {
	fee := Calculate(amount, serviceFeeRate)
	if fee.LessThan(serviceFeeFloor) {
		return serviceFeeFloor
	}
	return fee
}

// DealerCommission returns the dealer's cut when hasDealer is true,
// zero otherwise.
func DealerCommission(amount decimal.Decimal, hasDealer bool) decimal.Decimal {
	if !hasDealer {
		return decimal.Zero.Round(2)
	}
	return Calculate(amount, dealerRate)
}
