package util

import "strings"

// SplitSymbols parses a comma separated symbol list: trimmed, upper-cased,
// de-duplicated, order kept.
func SplitSymbols(s string) []string {
	return NormalizeSymbols(strings.Split(s, ","))
}

// NormalizeSymbols trims, upper-cases and de-duplicates symbols.
func NormalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
