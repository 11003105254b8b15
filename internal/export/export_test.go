package export

import (
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestProseMirrorToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: "",
		},
		{
			name: "simple paragraph",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Hello world",
							},
						},
					},
				},
			},
			expected: "<p>Hello world</p>",
		},
		{
			name: "heading with levels",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type":  "heading",
						"attrs": map[string]interface{}{"level": 2.0},
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Section Title",
							},
						},
					},
				},
			},
			expected: "<h2>Section Title</h2>",
		},
		{
			name: "bold and italic text",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Bold and italic",
								"marks": []interface{}{
									map[string]interface{}{"type": "bold"},
									map[string]interface{}{"type": "italic"},
								},
							},
						},
					},
				},
			},
			expected: "<strong><em>Bold and italic</em></strong>",
		},
		{
			name: "bullet list",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "bulletList",
						"content": []interface{}{
							map[string]interface{}{
								"type": "listItem",
								"content": []interface{}{
									map[string]interface{}{
										"type": "paragraph",
										"content": []interface{}{
											map[string]interface{}{
												"type": "text",
												"text": "Item 1",
											},
										},
									},
								},
							},
						},
					},
				},
			},
			expected: "<ul>",
		},
		{
			name: "code block",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "codeBlock",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "func main() {}",
							},
						},
					},
				},
			},
			expected: "<pre><code>func main() {}</code></pre>",
		},
		{
			name: "image node",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type":  "image",
						"attrs": map[string]interface{}{"src": "https://example.com/logo.png", "alt": "Logo"},
					},
				},
			},
			expected: `<img src="https://example.com/logo.png" alt="Logo">`,
		},
		{
			name: "highlight mark",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "key term",
								"marks": []interface{}{
									map[string]interface{}{"type": "highlight"},
								},
							},
						},
					},
				},
			},
			expected: "<mark>key term</mark>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProseMirrorToHTML(tt.input)
			// Normalize whitespace for comparison
			result = strings.TrimSpace(result)
			expected := strings.TrimSpace(tt.expected)
			if !strings.Contains(result, expected) {
				t.Errorf("ProseMirrorToHTML() = %v, want %v", result, expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Phase 1 Discovery v1.2", "Phase-1-Discovery-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "proposal"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderProposalHTML(t *testing.T) {
	data := TemplateData{
		PhaseName:     "Phase 1: Discovery",
		Status:        "pending",
		Amount:        "$4800.00",
		ProjectName:   "Website Refresh",
		ClientCompany: "Acme Co",
		ClientContact: "Dana Smith",
		Summary:       "Initial research and audit",
		Scope:         "Stakeholder interviews",
		Deliverables:  "Findings report",
		Terms:         "Net 30",
		ContentHTML:   template.HTML("<p>This is the content.</p>"),
		ExportedAt:    time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}

	html, err := RenderProposalHTML(data)
	if err != nil {
		t.Fatalf("RenderProposalHTML() error = %v", err)
	}

	// Check that key elements are present
	if !strings.Contains(html, "Phase 1: Discovery") {
		t.Error("HTML missing phase name")
	}
	if !strings.Contains(html, "Acme Co") {
		t.Error("HTML missing client company")
	}
	if !strings.Contains(html, "Website Refresh") {
		t.Error("HTML missing project name")
	}
	if !strings.Contains(html, "$4800.00") {
		t.Error("HTML missing amount")
	}
	if !strings.Contains(html, "Findings report") {
		t.Error("HTML missing deliverables")
	}
	if !strings.Contains(html, "This is the content") {
		t.Error("HTML missing content")
	}

	// Verify that HTML content is NOT escaped
	// If ContentHTML were escaped, we would see &lt;p&gt; instead of <p>
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	// Check that the actual HTML tag is present
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(0); got != "" {
		t.Errorf("formatAmount(0) = %q, want empty", got)
	}
	if got := formatAmount(480000); got != "$4800.00" {
		t.Errorf("formatAmount(480000) = %q", got)
	}
	if got := formatAmount(99); got != "$0.99" {
		t.Errorf("formatAmount(99) = %q", got)
	}
}
