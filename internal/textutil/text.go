// Package textutil holds the tokeniser, stopword list and sentence splitter
// shared by the embedder and the extractor.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)

// Token is a word with its byte offsets in the source text.
type Token struct {
	Text  string
	Lower string
	Start int
	End   int
}

// Capitalized reports whether the token starts with an upper-case letter.
func (t Token) Capitalized() bool {
	r, _ := utf8.DecodeRuneInString(t.Text)
	return unicode.IsUpper(r)
}

// Numeric reports whether the token starts with a digit.
func (t Token) Numeric() bool {
	r, _ := utf8.DecodeRuneInString(t.Text)
	return unicode.IsDigit(r)
}

// Tokens returns every word of text in order.
func Tokens(text string) []Token {
	locs := wordRe.FindAllStringIndex(text, -1)
	out := make([]Token, 0, len(locs))
	for _, l := range locs {
		w := text[l[0]:l[1]]
		out = append(out, Token{Text: w, Lower: strings.ToLower(w), Start: l[0], End: l[1]})
	}
	return out
}

// Terms returns the lower-cased content words of text, stopwords removed.
func Terms(text string) []string {
	raw := wordRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TermSet is Terms as a set.
func TermSet(text string) map[string]struct{} {
	terms := Terms(text)
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}

// IsStopword reports whether a lower-cased word carries no content.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "who", "whom", "whose", "which", "when", "where", "why", "how", "do", "does", "did", "i", "me", "my", "you", "your", "we", "our", "am", "its", "has", "have", "had", "tell", "please",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Sentence is a trimmed sentence with byte offsets in the source text.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// Sentences splits text at '.', '!' or '?' followed by whitespace or the end
// of text, and at newlines. Blank sentences are dropped.
func Sentences(text string) []Sentence {
	var out []Sentence
	start := 0
	emit := func(end int) {
		s, e := start, end
		for s < e {
			r, size := utf8.DecodeRuneInString(text[s:])
			if !unicode.IsSpace(r) {
				break
			}
			s += size
		}
		for e > s {
			r, size := utf8.DecodeLastRuneInString(text[:e])
			if !unicode.IsSpace(r) {
				break
			}
			e -= size
		}
		if e > s {
			out = append(out, Sentence{Text: text[s:e], Start: s, End: e})
		}
	}
	for i, r := range text {
		switch r {
		case '\n':
			emit(i)
			start = i + 1
		case '.', '!', '?':
			next := i + 1
			if next < len(text) {
				nr, _ := utf8.DecodeRuneInString(text[next:])
				if !unicode.IsSpace(nr) {
					continue
				}
			}
			emit(next)
			start = next
		}
	}
	emit(len(text))
	return out
}
