package prescription

import (
	"strconv"
	"strings"
	"unicode"
)

// DeriveQuantity turns free-text prescription fields into a dispense count.
// Best effort over uncontrolled input, in order of trust:
//
//  1. an explicit positive quantity wins as-is
//  2. a leading integer in the dosage text ("30 tablets")
//  3. a multiplication in the dosage text ("3x10", "3 x 10")
//  4. doses-per-day from the frequency times days from the duration
//     ("3x daily" for "5 days" gives 15)
//  5. a fallback of 1
//
// It never fails; unparseable text lands on the fallback.
func DeriveQuantity(explicit int, dosage, frequency, duration string) int {
	if explicit > 0 {
		return explicit
	}
	if n := parseDosage(dosage); n > 0 {
		return n
	}
	perDay := dosesPerDay(frequency)
	days := durationDays(duration)
	if perDay > 0 && days > 0 {
		return perDay * days
	}
	return 1
}

func parseDosage(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0
	}
	first, rest := leadingInt(s)
	if first <= 0 {
		return 0
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "x") {
		second, _ := leadingInt(strings.TrimSpace(rest[1:]))
		if second > 0 {
			return first * second
		}
	}
	return first
}

// dosesPerDay reads the frequency text. A leading integer is taken as doses
// per day; the common latin abbreviations are mapped directly.
func dosesPerDay(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "od", "once daily", "daily":
		return 1
	case "bd", "bid", "twice daily":
		return 2
	case "tds", "tid", "thrice daily":
		return 3
	case "qds", "qid":
		return 4
	}
	n, _ := leadingInt(s)
	return n
}

func durationDays(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	n, rest := leadingInt(s)
	if n <= 0 {
		return 0
	}
	rest = strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(rest, "week"), strings.HasPrefix(rest, "wk"):
		return n * 7
	case strings.HasPrefix(rest, "month"), strings.HasPrefix(rest, "mo"):
		return n * 30
	default:
		return n
	}
}

// leadingInt returns the integer prefix of s and the remainder, or 0 when s
// does not start with a digit.
func leadingInt(s string) (int, string) {
	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		i++
	}
	if i == 0 {
		return 0, s
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s
	}
	return n, s[i:]
}
