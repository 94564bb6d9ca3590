// Package names loads the company-name list the exchange is seeded from.
package names

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Load reads a newline-delimited list of company names, trimming whitespace,
// dropping blank lines, and de-duplicating. The result is sorted so symbol
// generation is reproducible across runs.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open names file: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	sort.Strings(out)
	return out, nil
}
