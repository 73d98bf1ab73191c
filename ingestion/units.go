package ingestion

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/veridoc/core"
)

// baseUnits are the units canonical values are expressed in.
// Longer names come first so "ohm" wins over "h" and "hz" over "h".
var baseUnits = []string{"ohm", "hz", "v", "a", "w", "f", "h", "s", "m", "g"}

var siPrefixes = map[string]float64{
	"p": 1e-12,
	"n": 1e-9,
	"u": 1e-6,
	"m": 1e-3,
	"k": 1e3,
	"M": 1e6,
	"G": 1e9,
}

var unitReplacer = strings.NewReplacer(
	"µ", "u",
	"μ", "u",
	"\u2126", "ohm",
	"\u03a9", "ohm",
	"\u2212", "-",
	"\u2013", "-",
)

// CanonicalValue renders a value and unit in a comparable form.
// Numbers are scaled to their base unit, so "60V", "60.0 V" and "0.06kV"
// all become "60 v". Values that do not start with a number compare as
// their trimmed, case-folded text.
func CanonicalValue(value, unit string) string {
	value, unit = strings.TrimSpace(value), strings.TrimSpace(unit)
	if unit != "" && strings.HasSuffix(strings.ToLower(value), strings.ToLower(unit)) {
		unit = ""
	}
	raw := unitReplacer.Replace(value + unit)
	raw = strings.Join(strings.Fields(raw), "")

	num, rest, ok := leadingNumber(raw)
	if !ok {
		return canonicalText(unitReplacer.Replace(value + " " + unit))
	}

	scale, base := splitUnit(rest)
	return strconv.FormatFloat(roundSig(num*scale), 'g', 6, 64) + joinUnit(base)
}

func joinUnit(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

// CanonicalParameter canonicalizes the name, value and condition of p.
func CanonicalParameter(p core.Parameter) core.Parameter {
	return core.Parameter{
		Name:      canonicalText(p.Name),
		Value:     CanonicalValue(p.Value, p.Unit),
		Condition: canonicalText(unitReplacer.Replace(p.Condition)),
	}
}

// ParametersEqual compares two extraction passes set-wise after canonicalization.
func ParametersEqual(a, b []core.Parameter) bool {
	ca, cb := canonicalSet(a), canonicalSet(b)
	return slices.Equal(ca, cb)
}

func canonicalSet(params []core.Parameter) []string {
	keys := make([]string, 0, len(params))
	for _, p := range params {
		c := CanonicalParameter(p)
		keys = append(keys, c.Name+"\x00"+c.Value+"\x00"+c.Condition)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// canonicalText case-folds, drops spaces around '=' and collapses whitespace.
func canonicalText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " =", "=")
	s = strings.ReplaceAll(s, "= ", "=")
	return strings.Join(strings.Fields(s), " ")
}

// leadingNumber parses a decimal number with optional sign and exponent at
// the start of s. It returns the number and the remaining text.
func leadingNumber(s string) (float64, string, bool) {
	end := 0
	n := len(s)
	if end < n && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < n && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < n && s[end] == '.' {
		end++
		for end < n && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0, s, false
	}
	// Exponent only when followed by digits so "5e" stays a unit
	if end+1 < n && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if s[exp] == '+' || s[exp] == '-' {
			exp++
		}
		if exp < n && s[exp] >= '0' && s[exp] <= '9' {
			for exp < n && s[exp] >= '0' && s[exp] <= '9' {
				exp++
			}
			end = exp
		}
	}

	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, s, false
	}
	return v, s[end:], true
}

// splitUnit splits an SI prefix from a known base unit. Unknown units are
// returned folded and unscaled.
func splitUnit(unit string) (float64, string) {
	if unit == "" {
		return 1, ""
	}
	lower := strings.ToLower(unit)
	if slices.Contains(baseUnits, lower) {
		return 1, lower
	}

	prefix, rest := unit[:1], unit[1:]
	restLower := strings.ToLower(rest)
	if scale, ok := prefixScale(prefix); ok && slices.Contains(baseUnits, restLower) {
		return scale, restLower
	}
	return 1, lower
}

// prefixScale resolves an SI prefix. Prefixes are case sensitive except
// that "K" is accepted for kilo.
func prefixScale(prefix string) (float64, bool) {
	if prefix == "K" {
		prefix = "k"
	}
	s, ok := siPrefixes[prefix]
	return s, ok
}

// roundSig removes binary noise introduced by prefix scaling.
func roundSig(v float64) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 12, 64), 64)
	if err != nil {
		return v
	}
	return f
}
