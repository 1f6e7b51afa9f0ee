package alert

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
)

// Span is a half-open range of rune offsets into a segment's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type token struct {
	text  string
	start int
	runes int
	space bool
}

// tokenize splits s on Unicode word boundaries. Tokens cover all of s, so
// rune offsets are a running sum of token lengths.
func tokenize(s string) []token {
	var toks []token
	offset := 0
	iter := words.FromString(s)
	for iter.Next() {
		v := iter.Value()
		n := utf8.RuneCountInString(v)
		toks = append(toks, token{text: v, start: offset, runes: n, space: isSpace(v)})
		offset += n
	}
	return toks
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return s != ""
}

// pattern is a keyword compiled to its word tokens.
type pattern []token

func compile(keyword string) pattern {
	return pattern(tokenize(strings.TrimSpace(keyword)))
}

func (p pattern) equal(a token, b token) bool {
	if a.space || b.space {
		return a.space && b.space
	}
	return strings.EqualFold(a.text, b.text)
}

// find returns the non-overlapping spans where every token of p appears in
// order in toks. Because whole tokens are compared, a keyword never matches
// inside a longer word.
func (p pattern) find(toks []token) []Span {
	if len(p) == 0 {
		return nil
	}

	var spans []Span
	for i := 0; i+len(p) <= len(toks); {
		ok := true
		for j := range p {
			if !p.equal(p[j], toks[i+j]) {
				ok = false
				break
			}
		}
		if !ok {
			i++
			continue
		}
		last := toks[i+len(p)-1]
		spans = append(spans, Span{Start: toks[i].start, End: last.start + last.runes})
		i += len(p)
	}
	return spans
}

// FindKeyword reports the spans of keyword in text using whole word,
// case-insensitive matching.
func FindKeyword(text, keyword string) []Span {
	return compile(keyword).find(tokenize(text))
}
