package utils

import (
	"math"
	"strings"
)

// math.go - математические утилиты
//
// Назначение:
// Вспомогательные математические функции для торговли.
//
// Функции:
// - RoundToLotSize: округление до lot size биржи
//   * Пример: 0.123456 BTC с lot size 0.001 → 0.123 BTC
// - CalculateSpread: расчет спреда между ценами
//   * Formula: (priceHigh - priceLow) / priceLow * 100
// - CalculateNetSpread: чистый спред с учетом комиссий
//   * spreadPct - 2*100*(feeA + feeB)
// - CalculateWeightedAverage: средневзвешенная цена
//   * Используется для расчета цены по стакану ордеров

const roundingEpsilon = 1e-7

// lotUnits converts value into lotSize units, along with the nearest whole
// unit and whether value sits within roundingEpsilon of it. Division by a
// lot size like 0.001 is rarely exact in float64, so callers that need
// "round half up" or "exact match" behavior test against the nearest unit
// rather than the raw quotient.
func lotUnits(value, lotSize float64) (units, nearest float64, atNearest bool) {
	units = value / lotSize
	nearest = math.Round(units)
	atNearest = math.Abs(units-nearest) < roundingEpsilon
	return
}

func snapPrecision(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// RoundToLotSize rounds value down to the nearest multiple of lotSize. A
// non-positive lotSize disables rounding and returns value unchanged.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	units, nearest, atNearest := lotUnits(value, lotSize)
	if atNearest {
		units = nearest
	} else {
		units = math.Floor(units)
	}
	return snapPrecision(units * lotSize)
}

// RoundToLotSizeUp rounds value up to the nearest multiple of lotSize. A
// non-positive lotSize disables rounding and returns value unchanged.
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	units, nearest, atNearest := lotUnits(value, lotSize)
	if atNearest {
		units = nearest
	} else {
		units = math.Ceil(units)
	}
	return snapPrecision(units * lotSize)
}

// RoundToLotSizeNearest rounds value to the closest multiple of lotSize,
// ties rounding up. A non-positive lotSize disables rounding.
func RoundToLotSizeNearest(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	units := value / lotSize
	rounded := math.Floor(units + 0.5 + roundingEpsilon)
	return snapPrecision(rounded * lotSize)
}

// CalculateSpread returns the percentage spread of priceHigh over priceLow.
// Returns 0 when priceLow is non-positive.
func CalculateSpread(priceHigh, priceLow float64) float64 {
	if priceLow <= 0 {
		return 0
	}
	return (priceHigh - priceLow) / priceLow * 100
}

// CalculateSpreadFromPrices returns the percentage spread between two
// prices regardless of which one is higher. Returns 0 if either price is
// non-positive.
func CalculateSpreadFromPrices(priceA, priceB float64) float64 {
	if priceA <= 0 || priceB <= 0 {
		return 0
	}
	high, low := priceA, priceB
	if low > high {
		high, low = low, high
	}
	return CalculateSpread(high, low)
}

// CalculateNetSpread subtracts the round-trip taker fees of both legs
// (expressed as fractions, e.g. 0.0004 for 0.04%) from a percentage spread.
func CalculateNetSpread(spreadPct, feeA, feeB float64) float64 {
	return snapPrecision(spreadPct - (feeA+feeB)*100*2)
}

// CalculateNetSpreadDirect combines CalculateSpread and CalculateNetSpread
// for callers that only have raw prices.
func CalculateNetSpreadDirect(priceHigh, priceLow, feeA, feeB float64) float64 {
	return CalculateNetSpread(CalculateSpread(priceHigh, priceLow), feeA, feeB)
}

// CalculateWeightedAverage returns the volume-weighted average of values.
// Mismatched lengths, empty input, or a non-positive total weight return 0.
// Non-positive individual weights are ignored.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(weights) == 0 || len(values) != len(weights) {
		return 0
	}
	var sumWV, sumW float64
	for i, v := range values {
		w := weights[i]
		if w <= 0 {
			continue
		}
		sumWV += v * w
		sumW += w
	}
	if sumW <= 0 {
		return 0
	}
	return sumWV / sumW
}

// OrderBookLevel is a single price/volume level of an order book side.
type OrderBookLevel struct {
	Price  float64
	Volume float64
}

// simulateMarketOrder walks levels in the order given, filling up to
// targetVolume and returning the volume-weighted fill price, the filled
// quantity (capped at available liquidity), and the slippage against the
// best (first) level, as a percentage.
func simulateMarketOrder(levels []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	if len(levels) == 0 || targetVolume <= 0 {
		return 0, 0, 0
	}
	var notional float64
	remaining := targetVolume
	for _, level := range levels {
		if remaining <= 0 {
			break
		}
		take := math.Min(level.Volume, remaining)
		if take <= 0 {
			continue
		}
		notional += take * level.Price
		filled += take
		remaining -= take
	}
	if filled <= 0 {
		return 0, 0, 0
	}
	avgPrice = notional / filled
	best := levels[0].Price
	if best > 0 {
		slippagePct = (avgPrice - best) / best * 100
	}
	return avgPrice, filled, slippagePct
}

// SimulateMarketBuy walks an ask-side book and returns the average fill
// price, filled volume, and slippage percentage for a market buy.
func SimulateMarketBuy(asks []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	return simulateMarketOrder(asks, targetVolume)
}

// SimulateMarketSell walks a bid-side book and returns the average fill
// price, filled volume, and slippage percentage for a market sell.
func SimulateMarketSell(bids []OrderBookLevel, targetVolume float64) (avgPrice, filled, slippagePct float64) {
	return simulateMarketOrder(bids, targetVolume)
}

// CalculatePNL returns unrealized PNL for a single leg. side must be
// "long" or "short" (case-insensitive); anything else returns 0.
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	switch strings.ToLower(side) {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// CalculateTotalPNL returns the combined PNL of a long leg and a short leg
// of equal quantity, as used by the arbitrage pair close.
func CalculateTotalPNL(longEntry, longExit, shortEntry, shortExit, quantity float64) float64 {
	return (longExit-longEntry)*quantity + (shortEntry-shortExit)*quantity
}

// SplitVolume divides totalVolume into nParts equal, lot-rounded pieces.
// Returns nil if nParts or totalVolume is non-positive.
func SplitVolume(totalVolume float64, nParts int, lotSize float64) []float64 {
	if nParts <= 0 || totalVolume <= 0 {
		return nil
	}
	part := RoundToLotSize(totalVolume/float64(nParts), lotSize)
	parts := make([]float64, nParts)
	for i := range parts {
		parts[i] = part
	}
	return parts
}

// IsSpreadSufficient reports whether spread meets or exceeds the entry
// threshold.
func IsSpreadSufficient(spread, threshold float64) bool {
	return spread >= threshold
}

// ShouldExit reports whether spread has fallen to or below the exit
// threshold.
func ShouldExit(spread, exitThreshold float64) bool {
	return spread <= exitThreshold
}

// IsStopLossHit reports whether pnl has breached stopLoss. stopLoss <= 0
// means the stop loss is disabled.
func IsStopLossHit(pnl, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	return pnl <= -stopLoss
}

// Clamp restricts value to the closed interval [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
