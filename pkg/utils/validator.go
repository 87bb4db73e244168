package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных.
//
// Функции:
// - ValidateSymbol: проверка формата символа (BTCUSDT)
// - ValidateSpread: проверка спреда (> 0)
// - ValidateVolume: проверка объема (> 0)
// - ValidateNOrders: проверка количества ордеров (≥ 1)
// - ValidateEmail: проверка email формата
// - ValidateAPIKey: базовая проверка API ключа
//
// Возвращает error с описанием проблемы или nil

// Sentinel errors, wrapped by the Validate* functions below so callers can
// use errors.Is against a stable category instead of matching message text.
var (
	ErrInvalidSymbol     = errors.New("invalid symbol format")
	ErrInvalidSpread     = errors.New("invalid spread value")
	ErrInvalidVolume     = errors.New("invalid volume value")
	ErrInvalidNOrders    = errors.New("invalid number of orders")
	ErrInvalidStopLoss   = errors.New("invalid stop loss value")
	ErrInvalidLeverage   = errors.New("invalid leverage value")
	ErrInvalidPercentage = errors.New("invalid percentage value")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrInvalidAPISecret  = errors.New("invalid API secret")
	ErrInvalidPassphrase = errors.New("invalid API passphrase")
	ErrInvalidExchange   = errors.New("unsupported exchange")
	ErrInvalidPairConfig = errors.New("invalid pair config")
)

// SupportedExchanges lists the venue names accepted by ValidateExchange.
var SupportedExchanges = []string{"bybit", "bitget", "okx", "gate", "htx", "bingx"}

// GetSupportedExchanges returns a copy of SupportedExchanges so callers
// cannot mutate the package-level slice.
func GetSupportedExchanges() []string {
	out := make([]string, len(SupportedExchanges))
	copy(out, SupportedExchanges)
	return out
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9/_-]{2,30}$`)

// ValidateSymbol checks that symbol is a plausible trading pair token:
// 2-30 characters of letters, digits, hyphen, underscore, or slash.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol is the boolean form of ValidateSymbol.
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

var symbolSeparators = strings.NewReplacer("-", "", "_", "", "/", "")

// NormalizeSymbol uppercases symbol and strips the hyphen/underscore/slash
// separators venues use between base and quote currency.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolSeparators.Replace(symbol))
}

// knownQuoteCurrencies is checked longest-first so "USDT" matches before
// a shorter currency that happens to be a suffix of it.
var knownQuoteCurrencies = []string{"USDT", "USDC", "BUSD", "DAI", "BTC", "ETH", "BNB"}

// ExtractBaseCurrency returns the base asset of a canonical or venue-wire
// symbol, e.g. "BTC-USDT" -> "BTC". Returns the normalized symbol
// unchanged if no known quote currency suffix matches.
func ExtractBaseCurrency(symbol string) string {
	norm := NormalizeSymbol(symbol)
	for _, q := range knownQuoteCurrencies {
		if len(norm) > len(q) && strings.HasSuffix(norm, q) {
			return norm[:len(norm)-len(q)]
		}
	}
	return norm
}

// ExtractQuoteCurrency returns the quote asset of a canonical or
// venue-wire symbol, e.g. "BTC-USDT" -> "USDT". Returns "" if no known
// quote currency suffix matches.
func ExtractQuoteCurrency(symbol string) string {
	norm := NormalizeSymbol(symbol)
	for _, q := range knownQuoteCurrencies {
		if len(norm) > len(q) && strings.HasSuffix(norm, q) {
			return q
		}
	}
	return ""
}

// ValidateSpread checks that spread (a percentage) is in (0, 100].
func ValidateSpread(spread float64) error {
	if spread <= 0 || spread > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidSpread, spread)
	}
	return nil
}

// ValidateVolume checks that volume is positive and within a sane upper
// bound, rejecting both accidental zero orders and fat-fingered sizes.
func ValidateVolume(volume float64) error {
	if volume <= 0 || volume > 1e9 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	return nil
}

// ValidateNOrders checks that n is in [1, 100].
func ValidateNOrders(n int) error {
	if n < 1 || n > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidNOrders, n)
	}
	return nil
}

// ValidateStopLoss checks that sl (a percentage) is in (0, 100].
func ValidateStopLoss(sl float64) error {
	if sl <= 0 || sl > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidStopLoss, sl)
	}
	return nil
}

// ValidateLeverage checks that leverage is in [1, 100].
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	return nil
}

// ValidatePercentage checks that pct is in [0, 100].
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidPercentage, pct)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail checks email against a permissive local@domain.tld shape.
// This is not RFC 5322 validation, just enough to catch obvious typos.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// IsValidEmail is the boolean form of ValidateEmail.
func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

// ValidateAPIKey checks that apiKey is at least 16 characters of
// alphanumerics, hyphens, or underscores.
func ValidateAPIKey(apiKey string) error {
	if !apiKeyPattern.MatchString(apiKey) {
		return fmt.Errorf("%w", ErrInvalidAPIKey)
	}
	return nil
}

// IsValidAPIKey is the boolean form of ValidateAPIKey.
func IsValidAPIKey(apiKey string) bool {
	return ValidateAPIKey(apiKey) == nil
}

// ValidateAPISecret checks that secret is at least 16 characters. Unlike
// ValidateAPIKey, venues routinely include punctuation in secrets, so no
// character class is enforced.
func ValidateAPISecret(secret string) error {
	if len(secret) < 16 {
		return fmt.Errorf("%w", ErrInvalidAPISecret)
	}
	return nil
}

// ValidateAPIPassphrase checks passphrase length. An empty passphrase is
// valid: only OKX-style venues require one.
func ValidateAPIPassphrase(passphrase string) error {
	if len(passphrase) > 64 {
		return fmt.Errorf("%w", ErrInvalidPassphrase)
	}
	return nil
}

// ValidateExchange checks name against SupportedExchanges, case-insensitive.
func ValidateExchange(exchange string) error {
	norm := NormalizeExchange(exchange)
	for _, e := range SupportedExchanges {
		if norm == e {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
}

// IsValidExchange is the boolean form of ValidateExchange.
func IsValidExchange(exchange string) bool {
	return ValidateExchange(exchange) == nil
}

// NormalizeExchange lowercases and trims an exchange name for comparison.
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// PairConfigValidation is the set of fields a venue-pair config must
// satisfy before the engine will trade it.
type PairConfigValidation struct {
	Symbol      string
	EntrySpread float64
	ExitSpread  float64
	Volume      float64
	NOrders     int
	StopLoss    float64 // 0 disables the stop loss
	ExchangeA   string
	ExchangeB   string
}

// ValidatePairConfig validates every field of cfg, short-circuiting on the
// first failure.
func ValidatePairConfig(cfg PairConfigValidation) error {
	if err := ValidateSymbol(cfg.Symbol); err != nil {
		return err
	}
	if err := ValidateSpread(cfg.EntrySpread); err != nil {
		return err
	}
	if err := ValidateSpread(cfg.ExitSpread); err != nil {
		return err
	}
	if cfg.EntrySpread < cfg.ExitSpread {
		return fmt.Errorf("%w: entry spread %v must be >= exit spread %v", ErrInvalidPairConfig, cfg.EntrySpread, cfg.ExitSpread)
	}
	if err := ValidateVolume(cfg.Volume); err != nil {
		return err
	}
	if err := ValidateNOrders(cfg.NOrders); err != nil {
		return err
	}
	if cfg.StopLoss != 0 {
		if err := ValidateStopLoss(cfg.StopLoss); err != nil {
			return err
		}
	}
	if cfg.ExchangeA != "" {
		if err := ValidateExchange(cfg.ExchangeA); err != nil {
			return err
		}
	}
	if cfg.ExchangeB != "" {
		if err := ValidateExchange(cfg.ExchangeB); err != nil {
			return err
		}
	}
	if cfg.ExchangeA != "" && cfg.ExchangeB != "" && strings.EqualFold(cfg.ExchangeA, cfg.ExchangeB) {
		return fmt.Errorf("%w: exchange_a and exchange_b must differ", ErrInvalidPairConfig)
	}
	return nil
}

// ValidationError is a single field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors accumulates ValidationError entries from a multi-field
// check so callers can report every problem at once instead of bailing on
// the first one.
type ValidationErrors []ValidationError

// Add appends a validation failure.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// AddError appends err's message under field, if err is non-nil.
func (e *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	*e = append(*e, ValidationError{Field: field, Message: err.Error()})
}

// HasErrors reports whether any failures were recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Error implements the error interface, joining every recorded failure.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	return strings.Join(parts, "; ")
}
