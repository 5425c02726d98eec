package core

import "strings"

// NormalizeSymbol trims and lower-cases a symbol and rewrites A-share codes into
// the market-prefixed form ("600000.SH" and "600000" both become "sh600000").
// Applying it twice yields the same value.
func NormalizeSymbol(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}

	if code, market, ok := strings.Cut(s, "."); ok {
		switch market {
		case "sh", "sz", "bj":
			if isDigits(code) {
				return market + code
			}
		}
		return s
	}

	if len(s) == 6 && isDigits(s) {
		if prefix := inferMarket(s); prefix != "" {
			return prefix + s
		}
	}
	return s
}

// inferMarket maps the leading digit of a six-digit code to its exchange.
func inferMarket(code string) string {
	switch code[0] {
	case '6', '9', '5':
		return "sh"
	case '0', '2', '3', '1':
		return "sz"
	case '4', '8':
		return "bj"
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
