package cmd

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxSuggestDistance is the largest edit distance still worth suggesting.
const maxSuggestDistance = 3

// consoleCommands are the canonical names exec accepts after "/".
var consoleCommands = []string{"list", "open", "status", "retry", "connect", "bot", "optin", "help", "quit"}

// closest returns the candidate input most likely meant: the only one it
// is a prefix of, else the nearest by edit distance, else the single best
// fuzzy match for abbreviations such as "cnv". A distance must stay within
// maxSuggestDistance and below the input's length, so short inputs do not
// match unrelated short names. Comparison ignores case; the candidate is
// returned as given.
func closest(input string, candidates []string) string {
	input = strings.ToLower(input)
	n := len([]rune(input))
	if n == 0 {
		return ""
	}
	lower := make([]string, len(candidates))
	prefixed := -1
	for i, c := range candidates {
		lower[i] = strings.ToLower(c)
		if strings.HasPrefix(lower[i], input) {
			if prefixed >= 0 {
				prefixed = -2
			} else if prefixed == -1 {
				prefixed = i
			}
		}
	}
	if prefixed >= 0 {
		return candidates[prefixed]
	}

	best, bestDist := "", min(maxSuggestDistance+1, n)
	for i, c := range lower {
		if d := editDistance(input, c); d < bestDist {
			best, bestDist = candidates[i], d
		}
	}
	if best != "" || n < 3 {
		return best
	}

	matches := fuzzy.Find(input, lower)
	if len(matches) == 0 || (len(matches) > 1 && matches[0].Score == matches[1].Score) {
		return ""
	}
	return candidates[matches[0].Index]
}

// editDistance is the Levenshtein distance over runes, so accented input
// counts one edit per character.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			sub := prev[j-1]
			if ra[i-1] != rb[j-1] {
				sub++
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// suggestCommand finds the closest command name or alias to unknown.
func suggestCommand(unknown string, commands []string) string {
	return closest(unknown, commands)
}

// suggestFlag compares flag names without their dashes but returns the
// match with its original prefix.
func suggestFlag(unknown string, flags []string) string {
	stripped := make([]string, len(flags))
	for i, f := range flags {
		stripped[i] = strings.TrimLeft(f, "-")
	}
	match := closest(strings.TrimLeft(unknown, "-"), stripped)
	if match == "" {
		return ""
	}
	for i, s := range stripped {
		if s == match {
			return flags[i]
		}
	}
	return ""
}

// suggestConsoleCommand maps a mistyped console command, without its
// slash, to a known one.
func suggestConsoleCommand(name string) string {
	return closest(name, consoleCommands)
}
