package routing

import (
	"github.com/shopspring/decimal"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/venue"
)

var one = decimal.NewFromInt(1)

// EffectivePrice is the venue price adjusted for its fee: price * (1 - fee).
// It is the ranking key for venue selection.
func EffectivePrice(q venue.Quote) decimal.Decimal {
	return q.Price.Mul(one.Sub(q.Fee))
}

// QuotedOut is the expected output for an input amount at a quote:
// amount * price * (1 - fee)
func QuotedOut(amount decimal.Decimal, q venue.Quote) decimal.Decimal {
	return amount.Mul(EffectivePrice(q))
}

// MinOutFactor converts a basis-points tolerance to a multiplicative
// bound: 1 - bps/10000
func MinOutFactor(slippageBps int) decimal.Decimal {
	return one.Sub(decimal.NewFromInt(int64(slippageBps)).Div(decimal.NewFromInt(10000)))
}

// MinOutWithSlippage is the minimum acceptable output given a quoted
// output and the caller's slippage tolerance
func MinOutWithSlippage(quotedOut decimal.Decimal, slippageBps int) decimal.Decimal {
	return quotedOut.Mul(MinOutFactor(slippageBps))
}

// ExecutedOut is the realized output after execution:
// amount * executedPrice * (1 - fee)
func ExecutedOut(amount, executedPrice, fee decimal.Decimal) decimal.Decimal {
	return amount.Mul(executedPrice).Mul(one.Sub(fee))
}
