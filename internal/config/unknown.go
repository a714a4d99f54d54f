package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"server":  {"health_path", "request_timeout", "token", "url"},
	"storage": {"data_dir", "max_value_size"},
	"queue":   {"batch_delay", "batch_size", "max_retries"},
	"network": {"backoff_step", "probe_interval", "probe_retries", "probe_timeout"},
	"sync": {
		"auto_merge", "batch_interval", "conflict_threshold", "delayed_interval",
		"immediate_interval", "prefer_local", "prefer_recent",
	},
	"logging": {"log_file", "log_format", "log_level"},
}

// knownSections is the sorted section list for suggestions.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		out = append(out, s)
	}

	slices.Sort(out)

	return out
}()

// checkUnknownKeys reports every undecoded key, suggesting the closest
// known section or key.
func checkUnknownKeys(md *toml.MetaData) error {
	var (
		errs     []error
		reported = make(map[string]bool)
	)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, unknownError("config section", section, "", knownSections))

			continue
		}

		if len(key) < 2 {
			continue
		}

		errs = append(errs, unknownError("config key", key[1], section, knownKeys[section]))
	}

	return errors.Join(errs...)
}

func unknownError(what, name, section string, candidates []string) error {
	full := name
	if section != "" {
		full = section + "." + name
	}

	if s := closestMatch(name, candidates); s != "" {
		if section != "" {
			s = section + "." + s
		}

		return fmt.Errorf("unknown %s %q, did you mean %q?", what, full, s)
	}

	return fmt.Errorf("unknown %s %q", what, full)
}

// closestMatch returns the candidate nearest to name, or "" when none is
// within maxLevenshteinDistance. Ties go to the earlier candidate.
func closestMatch(name string, candidates []string) string {
	best, bestDist := "", maxLevenshteinDistance+1

	for _, c := range candidates {
		if d := levenshtein(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best
}

func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
