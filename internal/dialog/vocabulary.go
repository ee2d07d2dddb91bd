package dialog

import (
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	resetKeywords = []string{"/reset", "salir", "menu", "exit", "chau", "adios", "bye", "cancelar"}
	greetings     = []string{"hola", "buenas", "ayuda"}

	negativeIntents              = []string{"no", "n", "mal", "sigue igual", "error", "falla"}
	knowledgeAffirmativeIntents  = []string{"si", "s", "gracias", "ok", "resuelto"}
	resolutionAffirmativeIntents = []string{
		"si", "s", "gracias", "resuelto", "ok", "excelente", "listo", "funciona", "ya esta",
	}
)

// normalize lowercases, trims, and strips diacritics.
func normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(text))
	}
	return folded
}

func words(text string) []string {
	return strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isReset(text string) bool {
	cleaned := normalize(text)
	for _, keyword := range resetKeywords {
		if cleaned == keyword {
			return true
		}
	}
	return false
}

func isGreeting(text string) bool {
	tokens := words(text)
	if len(tokens) == 0 {
		return false
	}
	for _, greeting := range greetings {
		if strings.HasPrefix(tokens[0], greeting) {
			return true
		}
	}
	return false
}

// matchesAny reports whether text carries one of the phrases. Single-letter
// phrases only match as the whole first word; longer phrases match any
// contiguous run of words.
func matchesAny(text string, phrases []string) bool {
	tokens := words(text)
	if len(tokens) == 0 {
		return false
	}
	for _, phrase := range phrases {
		needle := words(phrase)
		if len(needle) == 0 {
			continue
		}
		if len(needle) == 1 && len([]rune(needle[0])) == 1 {
			if tokens[0] == needle[0] {
				return true
			}
			continue
		}
		if containsRun(tokens, needle) {
			return true
		}
	}
	return false
}

func containsRun(tokens, needle []string) bool {
	for i := 0; i+len(needle) <= len(tokens); i++ {
		match := true
		for j := range needle {
			if tokens[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func digitsOnly(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseEmail accepts a bare address whose domain has at least one inner dot.
func parseEmail(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	addr, err := mail.ParseAddress(candidate)
	if err != nil || addr.Address != candidate || addr.Name != "" {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 {
		return "", false
	}
	host := addr.Address[at+1:]
	if !strings.Contains(host, ".") || strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
