package bootstrap

import "encoding/json"

// contentSpan is one rich-text run of the template document, in the
// insert/attributes delta form the editor consumes.
type contentSpan struct {
	Insert     string         `json:"insert"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// defaultIntroSpans is the fixed welcome document seeded into brand-new
// notes: a title, feature tour, and formatting samples.
func defaultIntroSpans() []contentSpan {
	return []contentSpan{
		{Insert: "Welcome to your notes!"},
		{Insert: "\n", Attributes: map[string]any{"header": 1}},
		{Insert: "\n"},
		{Insert: "This is a collaborative note-taking workspace with real-time editing, rich formatting, and shared workspaces.", Attributes: map[string]any{"bold": true}},
		{Insert: "\n\n"},

		{Insert: "Real-Time Collaboration"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Multiple people can edit the same note simultaneously.\n"},
		{Insert: "Instant sync", Attributes: map[string]any{"bold": true}},
		{Insert: " - changes appear immediately for everyone\n"},
		{Insert: "Cursor tracking", Attributes: map[string]any{"bold": true}},
		{Insert: " - see where others are typing, colour-coded\n"},
		{Insert: "Automatic conflict resolution", Attributes: map[string]any{"bold": true}},
		{Insert: " - concurrent edits merge without data loss\n\n"},
		{Insert: "Try it: open this note on another device!", Attributes: map[string]any{"italic": true, "background": "#fff9c4"}},
		{Insert: "\n\n"},

		{Insert: "Text Styles"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Bold", Attributes: map[string]any{"bold": true}},
		{Insert: " | "},
		{Insert: "Italic", Attributes: map[string]any{"italic": true}},
		{Insert: " | "},
		{Insert: "Underline", Attributes: map[string]any{"underline": true}},
		{Insert: " | "},
		{Insert: "Strikethrough", Attributes: map[string]any{"strike": true}},
		{Insert: " | "},
		{Insert: "inline code", Attributes: map[string]any{"code": true}},
		{Insert: "\n"},
		{Insert: "Red", Attributes: map[string]any{"color": "#e74c3c"}},
		{Insert: ", "},
		{Insert: "Blue", Attributes: map[string]any{"color": "#3498db"}},
		{Insert: ", "},
		{Insert: "Green", Attributes: map[string]any{"color": "#27ae60"}},
		{Insert: "\n\n"},

		{Insert: "Headings"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Heading 2"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Heading 3"},
		{Insert: "\n", Attributes: map[string]any{"header": 3}},
		{Insert: "\n"},

		{Insert: "Lists"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Bullet list item"},
		{Insert: "\n", Attributes: map[string]any{"list": "bullet"}},
		{Insert: "Numbered list item"},
		{Insert: "\n", Attributes: map[string]any{"list": "ordered"}},
		{Insert: "Checklist item"},
		{Insert: "\n", Attributes: map[string]any{"list": "unchecked"}},
		{Insert: "\n"},

		{Insert: "Code Blocks"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "func hello() {"},
		{Insert: "\n", Attributes: map[string]any{"code-block": true}},
		{Insert: "    fmt.Println(\"Hello, notes!\")"},
		{Insert: "\n", Attributes: map[string]any{"code-block": true}},
		{Insert: "}"},
		{Insert: "\n", Attributes: map[string]any{"code-block": true}},
		{Insert: "\n"},

		{Insert: "Quotes"},
		{Insert: "\n", Attributes: map[string]any{"header": 2}},
		{Insert: "Perfect for highlighting important information."},
		{Insert: "\n", Attributes: map[string]any{"blockquote": true}},
		{Insert: "\n"},

		{Insert: "Ready to start? Create your first note!", Attributes: map[string]any{"bold": true, "italic": true}},
		{Insert: "\n"},
	}
}

// encodeIntroUpdate renders the template as one opaque document update.
// json.Marshal writes map keys in sorted order, so the encoding is
// byte-stable across invocations.
func encodeIntroUpdate() ([]byte, error) {
	return json.Marshal(defaultIntroSpans())
}
