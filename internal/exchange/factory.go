package exchange

import (
	"fmt"
	"strings"
)

// SupportedExchanges lists every venue adapter wired into the factory.
var SupportedExchanges = []string{
	"bybit",
	"bitget",
	"okx",
	"gate",
	"htx",
	"bingx",
}

// NewExchange constructs the adapter for name, bound to its API
// credentials. passphrase is ignored by venues that don't need one
// (Bybit, Gate, HTX, BingX).
func NewExchange(name, apiKey, secret, passphrase string) (Exchange, error) {
	name = strings.ToLower(name)

	switch name {
	case "bybit":
		return NewBybit(apiKey, secret, passphrase), nil
	case "bitget":
		return NewBitget(apiKey, secret, passphrase), nil
	case "okx":
		return NewOKX(apiKey, secret, passphrase), nil
	case "gate":
		return NewGate(apiKey, secret, passphrase), nil
	case "htx":
		return NewHTX(apiKey, secret, passphrase), nil
	case "bingx":
		return NewBingX(apiKey, secret, passphrase), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported reports whether name has a registered adapter.
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
