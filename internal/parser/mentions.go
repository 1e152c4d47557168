package parser

import (
	"strings"
	"unicode"
)

// mentionBodyLimit bounds mention extraction to the leading body text.
const mentionBodyLimit = 500

// maxMentions caps the mention list per record.
const maxMentions = 32

// Words that start sentences or headlines without naming anything.
var mentionStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"it": true, "its": true, "in": true, "on": true, "at": true,
	"as": true, "and": true, "but": true, "after": true, "amid": true,
	"new": true, "why": true, "how": true, "what": true, "when": true,
}

// ExtractMentions pulls ordered candidate entity mentions from the title
// and leading body: runs of consecutive capitalized words, de-duplicated
// case-insensitively while preserving first-occurrence order. Pure and
// deterministic; matching against reference data is the resolver's job.
func ExtractMentions(title, body string) []string {
	if len(body) > mentionBodyLimit {
		body = body[:mentionBodyLimit]
	}

	var (
		mentions []string
		seen     = map[string]bool{}
		run      []string
	)

	flush := func() {
		if len(run) == 0 {
			return
		}
		mention := strings.Join(run, " ")
		run = run[:0]
		key := strings.ToLower(mention)
		if mentionStopWords[key] || seen[key] {
			return
		}
		seen[key] = true
		mentions = append(mentions, mention)
	}

	for _, word := range strings.Fields(title + " " + body) {
		cleaned := strings.Trim(word, ".,!?;:'\"()[]{}")
		// Single capitals ("Country X") only continue a run, never start one.
		candidate := isCapitalizedWord(cleaned) || (len(run) > 0 && isSingleCapital(cleaned))
		if candidate && (len(run) > 0 || !mentionStopWords[strings.ToLower(cleaned)]) {
			run = append(run, cleaned)
		} else {
			flush()
		}
		if len(mentions) >= maxMentions {
			return mentions
		}
	}
	flush()

	return mentions
}

func isSingleCapital(word string) bool {
	runes := []rune(word)
	return len(runes) == 1 && unicode.IsUpper(runes[0])
}

func isCapitalizedWord(word string) bool {
	if len(word) < 2 {
		return false
	}
	runes := []rune(word)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLetter(r) && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
