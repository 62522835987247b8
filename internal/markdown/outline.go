// Package markdown extracts document structure from markdown sources.
package markdown

import (
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Heading is one entry of a document outline.
type Heading struct {
	Level int    // 1 for H1, 2 for H2...
	Title string // Plain heading text
	Path  string // Hierarchy: "# Doc Title > ## Section Name"
}

// Outline is the heading structure of a markdown document.
type Outline struct {
	Headings []Heading
}

// Title returns the text of the first top-level heading, or "" if the
// document has none.
func (o *Outline) Title() string {
	for _, h := range o.Headings {
		if h.Level == 1 {
			return h.Title
		}
	}
	return ""
}

// Parser builds outlines with a goldmark parser.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a new markdown parser.
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Parser{md: md}
}

// Outline parses source and returns its H1 to H3 headings in document order.
func (p *Parser) Outline(source []byte) (*Outline, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	levels := headingLevels(doc)
	out := &Outline{}
	walk(tree.Items, nil, levels, &out.Headings)
	return out, nil
}

// walk flattens the TOC tree. Compact trees can skip levels, so the real
// heading level comes from the AST, not from the tree depth.
func walk(items toc.Items, ancestors []string, levels map[string]int, out *[]Heading) {
	for _, item := range items {
		title := string(item.Title)
		level := levels[string(item.ID)]
		if level == 0 {
			level = len(ancestors) + 1
		}
		current := append(append([]string(nil), ancestors...), fmt.Sprintf("%s %s", strings.Repeat("#", level), title))
		*out = append(*out, Heading{
			Level: level,
			Title: title,
			Path:  strings.Join(current, " > "),
		})
		if len(item.Items) > 0 {
			walk(item.Items, current, levels, out)
		}
	}
}

// headingLevels maps auto-generated heading ids to heading levels.
func headingLevels(doc ast.Node) map[string]int {
	levels := make(map[string]int)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if id, ok := heading.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				levels[string(b)] = heading.Level
			}
		}
		return ast.WalkContinue, nil
	})
	return levels
}

// IsMarkdown reports whether name has a markdown file extension.
func IsMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

// DisplayName picks a document display name for an uploaded file: the first
// H1 of a markdown file, falling back to the file name without extension.
// The result is cut to maxLen runes when maxLen > 0.
func (p *Parser) DisplayName(filename string, source []byte, maxLen int) string {
	name := ""
	if IsMarkdown(filename) {
		if o, err := p.Outline(source); err == nil {
			name = strings.TrimSpace(o.Title())
		}
	}
	if name == "" {
		base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
		name = strings.TrimSuffix(base, path.Ext(base))
	}
	if maxLen > 0 {
		if r := []rune(name); len(r) > maxLen {
			name = string(r[:maxLen])
		}
	}
	return name
}
