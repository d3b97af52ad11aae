// Package crossref finds references to emails inside free text: mail
// UUIDs and positional references such as "the second one" or "#3".
package crossref

import (
	"regexp"
	"strconv"
	"strings"
)

// uuidPattern matches canonical hyphenated UUIDs.
var uuidPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// ExtractMailUUIDs extracts all UUIDs from text, lowercased.
// Returns a deduplicated list preserving the order of first occurrence.
func ExtractMailUUIDs(text string) []string {
	matches := uuidPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		m = strings.ToLower(m)
		if seen[m] {
			continue
		}
		seen[m] = true
		result = append(result, m)
	}
	return result
}

// Ordinal is a positional reference into a listing. Position is
// 1-based; Last is set for "last", "latest" and "most recent".
type Ordinal struct {
	Position int
	Last     bool
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var (
	wordPattern   = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\b`)
	suffixPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\b`)
	numberPattern = regexp.MustCompile(`(?i)(?:#|\b(?:email|mail|message|number|no\.?)\s*#?)\s*(\d{1,2})\b`)
	latestPattern = regexp.MustCompile(`(?i)\b(last|latest|newest|most recent)\b`)
)

// ExtractOrdinal finds the first positional reference in text. UUIDs are
// removed first so their digits are never read as positions.
func ExtractOrdinal(text string) (Ordinal, bool) {
	text = uuidPattern.ReplaceAllString(text, " ")

	type found struct {
		at  int
		ord Ordinal
	}
	var best *found
	consider := func(at int, ord Ordinal) {
		if best == nil || at < best.at {
			best = &found{at: at, ord: ord}
		}
	}

	if loc := wordPattern.FindStringSubmatchIndex(text); loc != nil {
		consider(loc[0], Ordinal{Position: ordinalWords[strings.ToLower(text[loc[2]:loc[3]])]})
	}
	if loc := suffixPattern.FindStringSubmatchIndex(text); loc != nil {
		if n, err := strconv.Atoi(text[loc[2]:loc[3]]); err == nil && n > 0 {
			consider(loc[0], Ordinal{Position: n})
		}
	}
	if loc := numberPattern.FindStringSubmatchIndex(text); loc != nil {
		if n, err := strconv.Atoi(text[loc[2]:loc[3]]); err == nil && n > 0 {
			consider(loc[0], Ordinal{Position: n})
		}
	}
	if loc := latestPattern.FindStringIndex(text); loc != nil {
		consider(loc[0], Ordinal{Last: true})
	}

	if best == nil {
		return Ordinal{}, false
	}
	return best.ord, true
}
