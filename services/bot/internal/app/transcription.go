package app

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// similarityThreshold is the minimum 0-100 similarity for a word to be
// replaced by the organization name.
const similarityThreshold = 65

// Whisper tends to hear the organization name as one of these.
var knownMishearings = regexp.MustCompile(`(?i)ascom|poscon|proton|cupom|compom`)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// CorrectTranscription rewrites likely mishearings of org in a voice note
// transcription: first a fixed list of known substitutions, then any word
// whose similarity to org exceeds the threshold.
func CorrectTranscription(text, org string) string {
	org = strings.TrimSpace(org)
	if org == "" {
		return text
	}
	text = knownMishearings.ReplaceAllLiteralString(text, org)
	lowerOrg := strings.ToLower(org)
	target := fold(org)
	return wordPattern.ReplaceAllStringFunc(text, func(word string) string {
		if strings.ToLower(word) == lowerOrg {
			return word
		}
		if similarity(fold(word), target) > similarityThreshold {
			return org
		}
		return word
	})
}

// similarity is 100 minus the edit distance as a percentage of the longer
// string.
func similarity(a, b string) int {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 - dist*100/longest
}

// fold lowercases s and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
