package markdown

import (
	"strings"
	"testing"
)

// TestOutline_BasicHeaders tests an H1 with nested H2s and an H3.
func TestOutline_BasicHeaders(t *testing.T) {
	input := `# Getting Started

Introduction text here.

## Installation

Install steps here.

### From source

Build it.

## Configuration

Config details here.
`

	outline, err := NewParser().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	if len(outline.Headings) != 4 {
		t.Fatalf("Expected 4 headings, got %d", len(outline.Headings))
	}

	want := []Heading{
		{Level: 1, Title: "Getting Started", Path: "# Getting Started"},
		{Level: 2, Title: "Installation", Path: "# Getting Started > ## Installation"},
		{Level: 3, Title: "From source", Path: "# Getting Started > ## Installation > ### From source"},
		{Level: 2, Title: "Configuration", Path: "# Getting Started > ## Configuration"},
	}
	for i, h := range want {
		if outline.Headings[i] != h {
			t.Errorf("Heading %d: expected %+v, got %+v", i, h, outline.Headings[i])
		}
	}

	if outline.Title() != "Getting Started" {
		t.Errorf("Title: expected 'Getting Started', got %q", outline.Title())
	}
}

// TestOutline_NoHeaders tests a document without any heading.
func TestOutline_NoHeaders(t *testing.T) {
	outline, err := NewParser().Outline([]byte("Just a paragraph.\n\nAnd another."))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if len(outline.Headings) != 0 {
		t.Errorf("Expected no headings, got %d", len(outline.Headings))
	}
	if outline.Title() != "" {
		t.Errorf("Expected empty title, got %q", outline.Title())
	}
}

// TestOutline_TitleSkipsLeadingH2 tests that Title ignores headings below H1.
func TestOutline_TitleSkipsLeadingH2(t *testing.T) {
	input := "## Preface\n\ntext\n\n# Refund Policy\n\nbody\n"
	outline, err := NewParser().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if outline.Title() != "Refund Policy" {
		t.Errorf("Title: expected 'Refund Policy', got %q", outline.Title())
	}
}

func TestDisplayName(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name     string
		filename string
		source   string
		maxLen   int
		want     string
	}{
		{"markdown title", "docs/refunds.md", "# Refund Policy\n\nbody", 0, "Refund Policy"},
		{"markdown without title", "refunds.md", "body only", 0, "refunds"},
		{"plain text ignores headings", "notes.txt", "# Not a title", 0, "notes"},
		{"windows path", `C:\docs\handbook.pdf`, "", 0, "handbook"},
		{"truncated", "a.md", "# " + strings.Repeat("x", 150), 100, strings.Repeat("x", 100)},
		{"truncates runes", "a.md", "# héllo", 2, "hé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.DisplayName(tt.filename, []byte(tt.source), tt.maxLen)
			if got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestIsMarkdown(t *testing.T) {
	for name, want := range map[string]bool{
		"a.md":       true,
		"A.MARKDOWN": true,
		"b.mdx":      true,
		"c.txt":      false,
		"md":         false,
	} {
		if got := IsMarkdown(name); got != want {
			t.Errorf("IsMarkdown(%q) = %v, want %v", name, got, want)
		}
	}
}
