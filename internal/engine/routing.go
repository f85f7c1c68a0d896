package engine

import (
	"strings"
	"unicode"
)

// commandToken extracts a leading slash command ("/journal breakfast
// was eggs" -> "/journal"). Only a command at the very start of the
// message counts.
func commandToken(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	end := strings.IndexFunc(trimmed, unicode.IsSpace)
	if end == -1 {
		end = len(trimmed)
	}
	token := trimmed[:end]
	if len(token) < 2 {
		return "", false
	}
	return token, true
}

// loggingVerbs signal that the user is recording something that
// happened rather than asking about it.
var loggingVerbs = []string{
	"i had", "i ate", "i did", "i went", "i ran", "i slept", "i woke",
	"i took", "i drank", "i finished", "i completed", "i worked out",
	"i felt", "i skipped", "i made", "i got", "i met", "i walked",
	"i lifted", "i stretched", "i swam", "i biked", "i cooked",
	"log ", "record ", "add ", "note that", "track ",
}

// queryWords signal retrieval over past entries.
var queryWords = []string{
	"what did", "what was", "when did", "how many", "how much",
	"how often", "did i", "have i", "show me", "list ", "search ",
	"find ", "summarize", "summary of", "compare", "average", "trend",
	"?",
}

// domainWords are vocabulary that binds a message to the journal
// domain at all, as opposed to open-ended chat.
var domainWords = []string{
	"breakfast", "lunch", "dinner", "meal", "snack", "ate", "eat", "food", "drank", "drink",
	"run", "ran", "running", "workout", "gym", "exercise", "lift",
	"walk", "walked", "hike", "swim", "bike", "yoga",
	"sleep", "slept", "nap", "woke",
	"weight", "mood", "energy", "pain", "headache", "medication",
	"journal", "entry", "log", "diary", "yesterday", "today",
	"this morning", "last night", "tonight",
}

// IsLoggingIntent reports whether the message reads as recording a
// life event. Query phrasing wins over logging phrasing when both
// appear, since "did I run yesterday" contains "ran".
func IsLoggingIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, q := range queryWords {
		if strings.Contains(lower, q) {
			return false
		}
	}
	for _, v := range loggingVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// HasDomainIntent reports whether the message touches journal
// vocabulary at all. Messages that don't are routed to plain chat.
func HasDomainIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range domainWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return IsLoggingIntent(lower)
}
