package normalizer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrNoPrice is returned when a price string contains no digits at all.
var ErrNoPrice = errors.New("no price found")

// zeroDecimalCurrencies have no minor unit; their prices are already integral.
var zeroDecimalCurrencies = map[string]struct{}{
	"KRW": {},
	"JPY": {},
	"VND": {},
}

// ParsePrice parses a shop-native price string ("129,000원", "$1,299.00",
// "1.299,00 €") into integer minor-currency units for the given currency.
func ParsePrice(raw string, currency string) (int64, error) {
	cleaned := keepNumeric(raw)
	if cleaned == "" {
		return 0, ErrNoPrice
	}

	wholePart, fractionPart := splitDecimal(cleaned)

	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse price %q: %w", raw, err)
	}

	exponent := 2
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		exponent = 0
	}

	if exponent == 0 {
		// fraction on a zero-decimal currency is separator noise, drop it.
		return whole, nil
	}

	minor := whole * 100
	if fractionPart != "" {
		fraction, err := strconv.ParseInt(padFraction(fractionPart), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("can't parse price fraction %q: %w", raw, err)
		}
		minor += fraction
	}

	return minor, nil
}

// keepNumeric strips currency symbols, letters and whitespace, keeping digits
// and separator runes only.
func keepNumeric(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".,")
}

// splitDecimal decides which separator (if any) is the decimal one: the last
// '.' or ',' followed by one or two digits. Every other separator is treated
// as a thousands separator and removed.
func splitDecimal(cleaned string) (whole string, fraction string) {
	lastSep := strings.LastIndexAny(cleaned, ".,")
	if lastSep >= 0 {
		digitsAfter := len(cleaned) - lastSep - 1
		if digitsAfter == 1 || digitsAfter == 2 {
			fraction = cleaned[lastSep+1:]
			cleaned = cleaned[:lastSep]
		}
	}

	whole = strings.NewReplacer(".", "", ",", "").Replace(cleaned)
	return whole, fraction
}

func padFraction(fraction string) string {
	if len(fraction) == 1 {
		return fraction + "0"
	}
	return fraction
}
