package core

import "github.com/shopspring/decimal"

// baseScale is the base currency precision (KWD-style 3 decimal places).
const baseScale = 3

// BaseCurrency is the ledger's home currency. Foreign-currency documents
// carry their own currency and rate; amounts in movements are always base.
const BaseCurrency = "KWD"

// RoundBase applies the single system-wide rounding rule: round half-up to
// 3 decimals. Every base-currency amount passes through here exactly once —
// at FX conversion or at line-total computation — so purchase, sale, and
// statement arithmetic never disagree.
func RoundBase(d decimal.Decimal) decimal.Decimal {
	return d.Round(baseScale)
}

// BaseAmount converts a foreign-currency amount to base currency at the
// given rate and rounds it.
func BaseAmount(fxAmount, rate decimal.Decimal) decimal.Decimal {
	return RoundBase(fxAmount.Mul(rate))
}
