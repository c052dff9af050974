// Package textprep cleans raw text for narration. It is the local content
// enhancer used when the remote enhancement service is unavailable, and the
// text front-end of the local speech stub.
package textprep

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	base10   = 10
	base20   = 20
	base100  = 100
	base1000 = 1000
	// MaxSpelledNumber is the largest integer spelled out in words.
	MaxSpelledNumber = 999999
)

const (
	urlPattern        = `https?://\S+`
	emailPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberPattern     = `\b\d+\b`
	referencePattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationPattern   = `\([^)]*\d{4}[^)]*\)`
	whitespacePattern = `\s+`
	danglingPattern   = ` +([.,!?;:])`
)

// Normalizer turns arbitrary prose into text a narrator can read aloud.
// It is safe for concurrent use.
type Normalizer struct {
	url        *regexp.Regexp
	email      *regexp.Regexp
	number     *regexp.Regexp
	reference  *regexp.Regexp
	citation   *regexp.Regexp
	whitespace *regexp.Regexp
	dangling   *regexp.Regexp

	abbreviations *strings.Replacer
	punctuation   *strings.Replacer
}

// NewNormalizer compiles the patterns once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		url:        regexp.MustCompile(urlPattern),
		email:      regexp.MustCompile(emailPattern),
		number:     regexp.MustCompile(numberPattern),
		reference:  regexp.MustCompile(referencePattern),
		citation:   regexp.MustCompile(citationPattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		dangling:   regexp.MustCompile(danglingPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
			"e.g.", "for example",
			"i.e.", "that is",
		),
		punctuation: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize cleans text for narration in language. Abbreviation and number
// expansion only run for English; every language gets reference removal,
// whitespace collapsing, punctuation cleanup and a closing full stop.
func (n *Normalizer) Normalize(text, language string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	english := language == "" || strings.HasPrefix(strings.ToLower(language), "en")

	if english {
		text = n.abbreviations.Replace(text)
	}

	protected, tokens := n.protect(text)
	protected = n.reference.ReplaceAllString(protected, "")
	protected = n.citation.ReplaceAllString(protected, "")

	if english {
		protected = n.number.ReplaceAllStringFunc(protected, spellNumber)
	}

	protected = n.punctuation.Replace(protected)
	protected = collapsePunctuation(protected)
	protected = strings.TrimSpace(n.whitespace.ReplaceAllString(protected, " "))
	protected = n.dangling.ReplaceAllString(protected, "$1")

	return terminate(restore(protected, tokens))
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// protect swaps URLs and e-mail addresses for placeholders so later passes
// leave them intact.
func (n *Normalizer) protect(text string) (string, []string) {
	var tokens []string

	swap := func(match string) string {
		tokens = append(tokens, match)

		return placeholder(len(tokens) - 1)
	}

	text = n.url.ReplaceAllStringFunc(text, swap)
	text = n.email.ReplaceAllStringFunc(text, swap)

	return text, tokens
}

func restore(text string, tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, placeholder(i), tokens[i])
	}

	return text
}

// placeholder holds no digits or spaces so no later pass can rewrite it.
func placeholder(index int) string {
	return "\x00" + strings.Repeat("x", index+1) + "\x00"
}

// collapsePunctuation keeps the first of a run of identical punctuation marks,
// leaving "..." alone.
func collapsePunctuation(text string) string {
	var (
		out  strings.Builder
		last rune
	)

	for _, char := range text {
		if char == last && unicode.IsPunct(char) && char != '.' {
			continue
		}

		out.WriteRune(char)
		last = char
	}

	return out.String()
}

func terminate(text string) string {
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	switch last {
	case '.', '!', '?', '"', '\'':
		return text
	default:
		return strings.TrimRight(text, ",;:-") + "."
	}
}

func spellNumber(digits string) string {
	value, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return NumberToWords(value)
}

var (
	ones = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// NumberToWords spells out 0..MaxSpelledNumber in English words. Other values
// are returned as digits.
func NumberToWords(value int) string {
	if value < 0 || value > MaxSpelledNumber {
		return strconv.Itoa(value)
	}

	if value == 0 {
		return ones[0]
	}

	var parts []string

	if thousands := value / base1000; thousands > 0 {
		parts = append(parts, underThousand(thousands), "thousand")
	}

	if rest := value % base1000; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}

func underThousand(value int) string {
	var parts []string

	if hundreds := value / base100; hundreds > 0 {
		parts = append(parts, ones[hundreds], "hundred")
	}

	rest := value % base100

	switch {
	case rest == 0:
	case rest < base10:
		parts = append(parts, ones[rest])
	case rest < base20:
		parts = append(parts, teens[rest-base10])
	default:
		parts = append(parts, tens[rest/base10])
		if rest%base10 > 0 {
			parts = append(parts, ones[rest%base10])
		}
	}

	return strings.Join(parts, " ")
}
