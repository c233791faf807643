package textnorm

import (
	"iter"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	urlPattern     = regexp.MustCompile(`[a-z][a-z0-9+.\-]*://\S+`)
	mentionPattern = regexp.MustCompile(`(^|[^\p{L}\p{N}])/?[ru]/`)
	symbolPattern  = regexp.MustCompile(`[^\p{L}\p{N}'\s]+`)
)

// Config controls how text is reduced to tokens. The zero value of a field
// falls back to the default in DefaultConfig.
type Config struct {
	MinLength     int
	ContextLength int
	StopWords     []string
}

// DefaultConfig returns the stock configuration: minimum length 3, context
// window 50 and the built-in stop-word list.
func DefaultConfig() Config {
	return Config{
		MinLength:     3,
		ContextLength: 50,
		StopWords:     DefaultStopWords(),
	}
}

// Normalizer turns free text into a stream of analyzable tokens.
// It holds no mutable state after construction and is safe for concurrent use.
type Normalizer struct {
	minLength     int
	contextLength int
	stopwords     map[string]struct{}
}

// New creates a normalizer from cfg.
func New(cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = def.ContextLength
	}
	if cfg.StopWords == nil {
		cfg.StopWords = def.StopWords
	}

	stops := make(map[string]struct{}, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Normalizer{
		minLength:     cfg.MinLength,
		contextLength: cfg.ContextLength,
		stopwords:     stops,
	}
}

// Config returns the effective configuration, stop words sorted.
func (n *Normalizer) Config() Config {
	stops := make([]string, 0, len(n.stopwords))
	for w := range n.stopwords {
		stops = append(stops, w)
	}
	slices.Sort(stops)
	return Config{MinLength: n.minLength, ContextLength: n.contextLength, StopWords: stops}
}

// Tokens yields the tokens of text in order. The sequence can be ranged over
// more than once.
func (n *Normalizer) Tokens(text string) iter.Seq[string] {
	cleaned := clean(text)
	return func(yield func(string) bool) {
		for field := range strings.FieldsSeq(cleaned) {
			word := n.processToken(field)
			if word == "" {
				continue
			}
			if !yield(word) {
				return
			}
		}
	}
}

// Normalize returns all tokens of text.
func (n *Normalizer) Normalize(text string) []string {
	return slices.Collect(n.Tokens(text))
}

// IsStopword reports whether word is filtered as a stop word.
func (n *Normalizer) IsStopword(word string) bool {
	_, ok := n.stopwords[strings.ToLower(word)]
	return ok
}

// Context returns a snippet of text centered on the first case-insensitive
// occurrence of word, with "..." marking truncated ends. When word does not
// occur the head of text is returned.
func (n *Normalizer) Context(text, word string) string {
	if text == "" || word == "" {
		return ""
	}
	runes := []rune(text)
	half := n.contextLength / 2

	idx := indexFold(runes, []rune(word))
	if idx < 0 {
		if len(runes) > n.contextLength {
			return string(runes[:n.contextLength]) + "..."
		}
		return text
	}

	start := max(0, idx-half)
	end := min(len(runes), idx+utf8.RuneCountInString(word)+half)

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[start:end]))
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}

// clean lowercases text and blanks out URLs, mention markers and symbols.
func clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(text)
	text = urlPattern.ReplaceAllString(text, " ")
	text = mentionPattern.ReplaceAllString(text, "$1 ")
	return symbolPattern.ReplaceAllString(text, " ")
}

// processToken trims apostrophes and applies the length, numeric and
// stop-word filters. It returns "" for dropped tokens.
func (n *Normalizer) processToken(token string) string {
	word := strings.Trim(token, "'")
	if word == "" || utf8.RuneCountInString(word) < n.minLength {
		return ""
	}

	// Mixed tokens like "python3" are kept.
	if isNumericOnly(word) {
		return ""
	}

	if _, ok := n.stopwords[word]; ok {
		return ""
	}
	return word
}

func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// indexFold finds needle in haystack comparing lowercased runes.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i
	}
	return -1
}
