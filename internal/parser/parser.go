// Package parser scans wiki-link tokens and splits Markdown note files into
// frontmatter and body.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter holds the note keys linkkeeper reads and writes.
type Frontmatter struct {
	ID     string `yaml:"id,omitempty"`
	Title  string `yaml:"title,omitempty"`
	Pinned bool   `yaml:"pinned,omitempty"`
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter *Frontmatter
	Body        string
	Title       string
	// TitleInBody is true when Title was taken from the body's first line.
	TitleInBody bool
}

// Parse extracts frontmatter, body and title from raw Markdown bytes.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	res := &Result{Frontmatter: fm, Body: body}
	if fm != nil && fm.Title != "" {
		res.Title = fm.Title
		return res
	}
	res.Title = strings.TrimSpace(FirstLine(body))
	res.TitleInBody = res.Title != ""
	return res
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (*Frontmatter, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep the whole file as body.
		return nil, string(data)
	}
	return &fm, body
}

// Render serialises frontmatter and body back into a Markdown file.
// A nil frontmatter renders the body alone.
func Render(fm *Frontmatter, body string) ([]byte, error) {
	if fm == nil {
		return []byte(body), nil
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n")
	b.WriteString(body)
	return b.Bytes(), nil
}
