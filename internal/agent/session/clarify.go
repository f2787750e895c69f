package session

import "strings"

// clarificationPhrases mark analysis text that is really a question for the
// operator.
var clarificationPhrases = []string{
	"need more information",
	"could you",
	"can you provide",
}

// IsClarificationRequest reports whether analysis text asks the operator
// for input. The match is a case-insensitive substring search, so ordinary
// analysis that happens to contain one of the phrases also pauses.
func IsClarificationRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range clarificationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
