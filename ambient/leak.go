package ambient

import (
	"strings"
	"unicode"
)

// stoplist holds connector phrases too generic to count as a leak.
var stoplist = map[string]struct{}{
	"of the": {}, "in the": {}, "on the": {}, "to the": {}, "for the": {},
	"and the": {}, "at the": {}, "is a": {}, "it is": {}, "do not": {},
	"in a": {}, "of a": {}, "with the": {}, "from the": {}, "by the": {},
	"de la": {}, "en ligne": {}, "sur les": {}, "in der": {}, "für die": {},
}

// DetectLeaks returns the 2- and 3-word phrases of block that reappear in
// output, case-insensitively and ignoring punctuation. Windows never cross
// line breaks. Stoplisted connectors and purely numeric windows are skipped.
// Results are in block order without duplicates.
func DetectLeaks(block, output string) []string {
	if strings.TrimSpace(block) == "" || strings.TrimSpace(output) == "" {
		return nil
	}

	haystack := " " + strings.Join(tokenize(output), " ") + " "

	var leaks []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(block, "\n") {
		words := tokenize(line)
		for size := 2; size <= 3; size++ {
			for i := 0; i+size <= len(words); i++ {
				window := words[i : i+size]
				phrase := strings.Join(window, " ")
				if _, ok := seen[phrase]; ok {
					continue
				}
				if _, ok := stoplist[phrase]; ok || allNumeric(window) {
					continue
				}
				if strings.Contains(haystack, " "+phrase+" ") {
					seen[phrase] = struct{}{}
					leaks = append(leaks, phrase)
				}
			}
		}
	}
	return leaks
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func allNumeric(words []string) bool {
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}
