// Package ticker derives short unique exchange symbols from company names.
package ticker

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMaxLen is the symbol length used by the game.
const DefaultMaxLen = 5

// stopWords are corporate suffixes and filler words skipped during symbol
// derivation, unless skipping them would leave no tokens at all.
var stopWords = map[string]struct{}{
	"INC": {}, "LTD": {}, "CORPORATION": {}, "CORP": {}, "COMPANY": {}, "CO": {},
	"GROUP": {}, "SYSTEMS": {}, "TECHNOLOGIES": {}, "INDUSTRIES": {},
	"INTERNATIONAL": {}, "HOLDINGS": {}, "SERVICES": {}, "SOLUTIONS": {},
	"GLOBAL": {}, "LIMITED": {}, "BUSINESS": {}, "INCORPORATED": {},
	"ASSOCIATION": {}, "FOUNDATION": {}, "INSTITUTE": {}, "LLC": {}, "PLC": {},
	"AND": {}, "&": {}, "THE": {}, "OF": {}, "FOR": {},
}

var punctRE = regexp.MustCompile(`[^\w\s]`)

// Generate maps every distinct company name to a symbol of at most maxLen
// characters. Names are processed in sorted order so the assignment is
// reproducible; earlier names win the shorter collision-free symbols.
//
// Worst case, when the whole search space is exhausted, the degraded fallback
// can emit a duplicate symbol; callers treat that as acceptable, not an error.
func Generate(names []string, maxLen int) map[string]string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	distinct := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		distinct = append(distinct, name)
	}
	sort.Strings(distinct)

	taken := make(map[string]struct{}, len(distinct))
	out := make(map[string]string, len(distinct))
	for _, name := range distinct {
		symbol := derive(name, taken, maxLen)
		taken[symbol] = struct{}{}
		out[name] = symbol
	}
	return out
}

func derive(name string, taken map[string]struct{}, maxLen int) string {
	words := tokenize(name)
	if len(words) == 0 {
		return ""
	}

	// First letters of each word.
	var initials strings.Builder
	for _, w := range words {
		initials.WriteByte(w[0])
	}
	symbol := truncate(initials.String(), maxLen)
	if _, ok := taken[symbol]; !ok {
		return symbol
	}

	// Widen one word at a time: take length+1 letters from word i, single
	// first letters from the rest.
	for length := 1; length < maxLen; length++ {
		for i := range words {
			if len(words[i]) <= length {
				continue
			}
			var b strings.Builder
			for j, w := range words {
				if j == i {
					b.WriteString(w[:length+1])
				} else {
					b.WriteByte(w[0])
				}
			}
			candidate := truncate(b.String(), maxLen)
			if _, ok := taken[candidate]; !ok {
				return candidate
			}
		}
	}

	// Successively longer prefixes of the concatenated words.
	concatenated := strings.Join(words, "")
	for i := len(symbol); i <= len(concatenated); i++ {
		candidate := truncate(concatenated[:i], maxLen)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}

	// Degraded last resort: may collide.
	return truncate(concatenated, maxLen)
}

func tokenize(name string) []string {
	clean := strings.ToUpper(punctRE.ReplaceAllString(name, ""))
	all := strings.Fields(clean)
	words := make([]string, 0, len(all))
	for _, w := range all {
		if _, stop := stopWords[w]; !stop {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return all
	}
	return words
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
