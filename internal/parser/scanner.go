package parser

import (
	"regexp"
	"strings"
)

const (
	openDelim  = "[["
	closeDelim = "]]"
)

// Token is one [[Title]] occurrence in a body. Start and End are byte
// offsets of the opening and one past the closing delimiter.
type Token struct {
	Title string
	Start int
	End   int
}

// Scan returns every link token in body, left to right and non-overlapping.
// A token's title is the shortest non-empty text up to the next "]]" on the
// same line.
func Scan(body string) []Token {
	var out []Token
	i := 0
	for {
		rel := strings.Index(body[i:], openDelim)
		if rel < 0 {
			return out
		}
		start := i + rel
		titleStart := start + len(openDelim)
		if tok, ok := closeAt(body, start, titleStart); ok {
			out = append(out, tok)
			i = tok.End
			continue
		}
		i = start + 1
	}
}

func closeAt(body string, start, titleStart int) (Token, bool) {
	// The title holds at least one byte, so the search starts past it.
	if titleStart >= len(body) {
		return Token{}, false
	}
	rest := body[titleStart+1:]
	end := strings.Index(rest, closeDelim)
	if end < 0 {
		return Token{}, false
	}
	title := body[titleStart : titleStart+1+end]
	if strings.ContainsAny(title, "\r\n") {
		return Token{}, false
	}
	return Token{
		Title: title,
		Start: start,
		End:   titleStart + 1 + end + len(closeDelim),
	}, true
}

// Links returns the distinct link titles in body as a set.
func Links(body string) map[string]struct{} {
	toks := Scan(body)
	out := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		out[t.Title] = struct{}{}
	}
	return out
}

// Rewrite replaces every token titled oldTitle with [[newTitle]] and
// reports how many tokens changed. Text outside tokens is never touched.
func Rewrite(body, oldTitle, newTitle string) (string, int) {
	toks := Scan(body)
	if len(toks) == 0 {
		return body, 0
	}
	var b strings.Builder
	b.Grow(len(body))
	last, n := 0, 0
	for _, t := range toks {
		if t.Title != oldTitle {
			continue
		}
		b.WriteString(body[last:t.Start])
		b.WriteString(openDelim)
		b.WriteString(newTitle)
		b.WriteString(closeDelim)
		last = t.End
		n++
	}
	if n == 0 {
		return body, 0
	}
	b.WriteString(body[last:])
	return b.String(), n
}

var (
	headingMarkerRe = regexp.MustCompile(`^#+ `)
	lineBreakRe     = regexp.MustCompile(`\r\n|\r|\n`)
)

// FirstLine returns body's first line with any leading "#+ " marker removed.
func FirstLine(body string) string {
	first := lineBreakRe.Split(body, 2)[0]
	return headingMarkerRe.ReplaceAllString(first, "")
}

// SplitFirstLine splits body after its first line break.
func SplitFirstLine(body string) (first, rest string) {
	parts := lineBreakRe.Split(body, 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// StripTitleLine drops body's first line when it repeats title. The rest
// of the body is rejoined with "\n".
func StripTitleLine(body, title string) (string, bool) {
	lines := lineBreakRe.Split(body, -1)
	if headingMarkerRe.ReplaceAllString(lines[0], "") != title {
		return body, false
	}
	return strings.Join(lines[1:], "\n"), true
}
