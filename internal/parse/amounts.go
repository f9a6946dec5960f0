package parse

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount reads a money value written with either European ("1.234,56") or
// US ("1,234.56") grouping, tolerating currency symbols and codes. Unlike dates,
// amounts never fall back: anything unparsable is an error.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	negative := false
	s = trimDecoration(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = trimDecoration(s[1 : len(s)-1])
	}
	for {
		switch {
		case strings.HasPrefix(s, "-"), strings.HasPrefix(s, "−"):
			negative = !negative
			s = trimDecoration(strings.TrimLeft(strings.TrimPrefix(s, "-"), "−"))
			continue
		case strings.HasSuffix(s, "-"):
			negative = !negative
			s = trimDecoration(strings.TrimSuffix(s, "-"))
			continue
		case strings.HasPrefix(s, "+"):
			s = trimDecoration(strings.TrimPrefix(s, "+"))
			continue
		}
		break
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// grouping
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
	}
	num := b.String()
	if strings.Trim(num, ".,") == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(normalizeSeparators(num))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// trimDecoration strips currency codes, symbols and whitespace around a number.
func trimDecoration(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.Is(unicode.Sc, r)
	})
}

// normalizeSeparators rewrites num so '.' is the only (decimal) separator.
func normalizeSeparators(num string) string {
	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// whichever comes last is the decimal separator
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(num, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")
	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 != 3 {
			return strings.Replace(num, ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 {
			return strings.ReplaceAll(num, ".", "")
		}
		return num
	default:
		return num
	}
}
