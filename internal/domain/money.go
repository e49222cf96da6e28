package domain

// ApplyBps applies a basis-point rate to an amount of minor units, rounding
// half up. Both arguments must be non-negative.
func ApplyBps(amountMinor, bps int64) int64 {
	return (amountMinor*bps + 5_000) / 10_000
}

// PerKgCharge prices a weight in grams against a per-kilogram rate, rounding
// half up to the nearest minor unit.
func PerKgCharge(ratePerKgMinor, weightGrams int64) int64 {
	return (ratePerKgMinor*weightGrams + 500) / 1_000
}
