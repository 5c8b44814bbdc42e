package extractor

import (
	"context"
	"math"
	"strings"

	"ragqa/internal/domain"
	"ragqa/internal/textutil"
)

// Confidence multipliers by the kind of span returned.
const (
	typedSpanFactor = 0.95
	segmentFactor   = 0.7
	sentenceFactor  = 0.5
)

type questionKind int

const (
	kindOther questionKind = iota
	kindPerson
	kindPlace
	kindTime
	kindCount
)

// Words that mark the question type and should not count as content.
var markerWords = map[string]struct{}{"many": {}, "much": {}, "year": {}}

// Lower-case particles that may sit inside a proper name.
var nameConnectors = map[string]struct{}{
	"van": {}, "von": {}, "de": {}, "der": {}, "den": {}, "da": {}, "di": {}, "del": {},
	"du": {}, "la": {}, "le": {}, "bin": {}, "ibn": {}, "al": {}, "y": {},
}

var months = map[string]struct{}{
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {}, "june": {},
	"july": {}, "august": {}, "september": {}, "october": {}, "november": {}, "december": {},
}

// Lexical is an extractive answerer that needs no model. It picks the
// sentence covering most of the question's content words and narrows it to
// the part the question did not already say.
type Lexical struct {
	limits Limits
}

func NewLexical(limits Limits) *Lexical {
	return &Lexical{limits: limits.withDefaults()}
}

func (x *Lexical) Name() string { return "lexical" }

func (x *Lexical) Extract(ctx context.Context, question, text string) (domain.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}
	text = Truncate(text, x.limits.MaxContextLength)
	q := parseQuestion(question)
	if len(q.terms) == 0 {
		return domain.Extraction{}, nil
	}

	var best *candidate
	for _, sent := range textutil.Sentences(text) {
		c := q.score(sent)
		if c.coverage == 0 {
			continue
		}
		if best == nil || c.beats(best) {
			best = c
		}
	}
	if best == nil {
		return domain.Extraction{}, nil
	}
	return x.limits.finish(best.extraction(text)), nil
}

type query struct {
	kind  questionKind
	terms map[string]struct{}
}

func parseQuestion(question string) query {
	q := query{kind: classify(textutil.Tokens(question)), terms: map[string]struct{}{}}
	for _, t := range textutil.Terms(question) {
		if _, ok := markerWords[t]; ok {
			continue
		}
		q.terms[stem(t)] = struct{}{}
	}
	return q
}

func classify(toks []textutil.Token) questionKind {
	for i, t := range toks {
		next := ""
		if i+1 < len(toks) {
			next = toks[i+1].Lower
		}
		switch t.Lower {
		case "who", "whom", "whose":
			return kindPerson
		case "where":
			return kindPlace
		case "when":
			return kindTime
		case "how":
			if next == "many" || next == "much" {
				return kindCount
			}
		case "what", "which":
			if next == "year" {
				return kindTime
			}
		}
	}
	return kindOther
}

// stem strips a few inflectional suffixes so "created" matches "create".
func stem(w string) string {
	for _, suf := range []string{"ing", "ed", "es", "e", "s"} {
		if len(w)-len(suf) >= 3 && strings.HasSuffix(w, suf) {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

// candidate is a scored sentence. Token offsets are relative to the
// sentence; base converts them to context offsets.
type candidate struct {
	base     int
	sent     string
	toks     []textutil.Token
	matched  []bool
	first    int
	last     int
	coverage float64
	density  float64
	typed    [2]int
	hasTyped bool
}

func (q query) score(sent textutil.Sentence) *candidate {
	c := &candidate{base: sent.Start, sent: sent.Text, toks: textutil.Tokens(sent.Text), first: -1, last: -1}
	c.matched = make([]bool, len(c.toks))
	seen := map[string]struct{}{}
	for i, t := range c.toks {
		if textutil.IsStopword(t.Lower) {
			continue
		}
		s := stem(t.Lower)
		if _, ok := q.terms[s]; !ok {
			continue
		}
		c.matched[i] = true
		seen[s] = struct{}{}
		if c.first < 0 {
			c.first = i
		}
		c.last = i
	}
	if len(seen) == 0 {
		return c
	}
	c.coverage = float64(len(seen)) / float64(len(q.terms))
	matched := 0
	for _, m := range c.matched {
		if m {
			matched++
		}
	}
	c.density = float64(matched) / math.Sqrt(float64(len(c.toks)))

	switch q.kind {
	case kindPerson, kindPlace:
		c.typed, c.hasTyped = c.nameSpan()
	case kindTime:
		c.typed, c.hasTyped = c.numberSpan(true)
	case kindCount:
		c.typed, c.hasTyped = c.numberSpan(false)
	}
	return c
}

func (c *candidate) beats(o *candidate) bool {
	if c.coverage != o.coverage {
		return c.coverage > o.coverage
	}
	if c.hasTyped != o.hasTyped {
		return c.hasTyped
	}
	return c.density > o.density
}

func (c *candidate) extraction(text string) domain.Extraction {
	span, factor := c.typed, typedSpanFactor
	if !c.hasTyped {
		var ok bool
		span, ok = c.segment()
		factor = segmentFactor
		if !ok {
			return domain.Extraction{
				Answer:     c.sent,
				Confidence: c.coverage * sentenceFactor,
				Start:      c.base,
				End:        c.base + len(c.sent),
			}
		}
	}
	start := c.base + c.toks[span[0]].Start
	end := c.base + c.toks[span[1]-1].End
	return domain.Extraction{
		Answer:     text[start:end],
		Confidence: c.coverage * factor,
		Start:      start,
		End:        end,
	}
}

func (c *candidate) free(i int) bool {
	return !c.matched[i] && !textutil.IsStopword(c.toks[i].Lower)
}

func (c *candidate) isName(i int) bool {
	return c.free(i) && c.toks[i].Capitalized()
}

// nameSpan finds a run of capitalised words, joined by name particles,
// preferring the first run after the last matched word.
func (c *candidate) nameSpan() ([2]int, bool) {
	var runs [][2]int
	for i := 0; i < len(c.toks); {
		if !c.isName(i) {
			i++
			continue
		}
		j := i + 1
		for j < len(c.toks) {
			if c.isName(j) {
				j++
				continue
			}
			if _, ok := nameConnectors[c.toks[j].Lower]; ok && j+1 < len(c.toks) && c.isName(j+1) {
				j += 2
				continue
			}
			break
		}
		runs = append(runs, [2]int{i, j})
		i = j
	}
	return pick(runs, c.last)
}

// numberSpan finds a number, joined with adjacent month names for dates.
func (c *candidate) numberSpan(dates bool) ([2]int, bool) {
	part := func(i int) bool {
		if c.matched[i] {
			return false
		}
		if c.toks[i].Numeric() {
			return true
		}
		_, month := months[c.toks[i].Lower]
		return dates && month
	}
	var runs [][2]int
	for i := 0; i < len(c.toks); {
		if !part(i) {
			i++
			continue
		}
		j := i
		hasNumber := false
		for j < len(c.toks) && part(j) {
			hasNumber = hasNumber || c.toks[j].Numeric()
			j++
		}
		if hasNumber {
			runs = append(runs, [2]int{i, j})
		}
		i = j
	}
	return pick(runs, c.last)
}

func pick(runs [][2]int, after int) ([2]int, bool) {
	if len(runs) == 0 {
		return [2]int{}, false
	}
	for _, r := range runs {
		if r[0] > after {
			return r, true
		}
	}
	return runs[0], true
}

// segment is the text after the last matched word, or failing that before
// the first, with stopwords trimmed from both ends.
func (c *candidate) segment() ([2]int, bool) {
	if s, ok := c.trimmed(c.last+1, len(c.toks)); ok {
		return s, true
	}
	return c.trimmed(0, c.first)
}

func (c *candidate) trimmed(from, to int) ([2]int, bool) {
	for from < to && !c.free(from) {
		from++
	}
	for to > from && !c.free(to-1) {
		to--
	}
	if from >= to {
		return [2]int{}, false
	}
	return [2]int{from, to}, true
}
