package parser

import (
	"sort"
	"testing"
)

func sortedLinks(body string) []string {
	var out []string
	for l := range Links(body) {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func TestLinks_Dedup(t *testing.T) {
	got := sortedLinks("See [[Note A]] and [[Note B]].\nAlso [[Note A]] again.")
	if len(got) != 2 || got[0] != "Note A" || got[1] != "Note B" {
		t.Errorf("links = %v", got)
	}
}

func TestLinks_CaseSensitive(t *testing.T) {
	got := sortedLinks("[[x]] [[X]]")
	if len(got) != 2 {
		t.Errorf("links = %v, want both cases", got)
	}
}

func TestLinks_NonGreedyAndEdges(t *testing.T) {
	cases := []struct {
		body string
		want []string
	}{
		{"[[a]][[b]]", []string{"a", "b"}},
		{"[[]]", nil},
		{"[[]]]", []string{"]"}},
		{"[[[A]]", []string{"[A"}},
		{"[[split\nline]]", nil},
		{"[[unclosed", nil},
		{"[[x [[y]]", []string{"x [[y"}},
	}
	for _, c := range cases {
		got := sortedLinks(c.body)
		if len(got) != len(c.want) {
			t.Errorf("Links(%q) = %v, want %v", c.body, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("Links(%q) = %v, want %v", c.body, got, c.want)
			}
		}
	}
}

func TestRewrite_AllOccurrences(t *testing.T) {
	out, n := Rewrite("[[B]] and [[B]] but not [[Bee]]", "B", "B2")
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
	if out != "[[B2]] and [[B2]] but not [[Bee]]" {
		t.Errorf("out = %q", out)
	}
}

func TestRewrite_MetacharactersAreLiteral(t *testing.T) {
	out, n := Rewrite("see [[a.b (c)*]] and [[aXb (c)*]]", "a.b (c)*", "new")
	if n != 1 || out != "see [[new]] and [[aXb (c)*]]" {
		t.Errorf("out = %q n = %d", out, n)
	}
}

func TestRewrite_NoMatchReturnsInput(t *testing.T) {
	body := "plain text B"
	out, n := Rewrite(body, "B", "C")
	if n != 0 || out != body {
		t.Errorf("out = %q n = %d", out, n)
	}
}

func TestStripTitleLine(t *testing.T) {
	cases := []struct {
		body, title, want string
		stripped          bool
	}{
		{"# Title\nbody", "Title", "body", true},
		{"### Title\r\nbody\nmore", "Title", "body\nmore", true},
		{"Title\nbody", "Title", "body", true},
		{"#Title\nbody", "Title", "#Title\nbody", false},
		{"Other\nbody", "Title", "Other\nbody", false},
		{"Title", "Title", "", true},
	}
	for _, c := range cases {
		got, ok := StripTitleLine(c.body, c.title)
		if got != c.want || ok != c.stripped {
			t.Errorf("StripTitleLine(%q, %q) = %q, %v; want %q, %v", c.body, c.title, got, ok, c.want, c.stripped)
		}
	}
}
