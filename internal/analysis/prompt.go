package analysis

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"unicode/utf8"

	"github.com/phrazzld/assay-api/internal/domain"
)

// maxPromptContentBytes caps how much of an artifact is inlined into a prompt.
const maxPromptContentBytes = 64 << 10

// DefaultPromptTemplate is used when no template file is configured.
const DefaultPromptTemplate = `You are analyzing an uploaded artifact.
Filename: {{.Filename}}
Content type: {{.ContentType}}
Size in bytes: {{.Size}}
{{if .IsText}}Content{{if .Truncated}} (truncated){{end}}:
{{.Content}}
{{else}}The artifact is binary and its content is not included.
{{end}}
Respond with a single JSON object with the fields "summary" (string),
"category" (string), "language" (string, empty if not applicable) and
"findings" (array of strings).`

// PromptData is the value a prompt template is executed with.
type PromptData struct {
	Filename    string
	ContentType string
	Size        int
	IsText      bool
	Truncated   bool
	Content     string
}

// NewPromptData derives template data from an artifact.
func NewPromptData(a domain.Artifact) PromptData {
	d := PromptData{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size(),
		IsText:      utf8.Valid(a.Data),
	}
	if d.IsText {
		content := a.Data
		if len(content) > maxPromptContentBytes {
			content = content[:maxPromptContentBytes]
			// Do not cut a multi-byte rune in half.
			for len(content) > 0 && !utf8.Valid(content) {
				content = content[:len(content)-1]
			}
			d.Truncated = true
		}
		d.Content = string(content)
	}
	return d
}

// Prompt renders artifacts into LLM prompts.
type Prompt struct {
	tmpl *template.Template
}

// LoadPrompt parses the template at path, or DefaultPromptTemplate when path
// is empty.
func LoadPrompt(path string) (*Prompt, error) {
	src := DefaultPromptTemplate
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v", ErrInvalidConfig, path, err)
		}
		src = string(b)
	}
	return ParsePrompt(src)
}

// ParsePrompt parses a prompt template from source.
func ParsePrompt(src string) (*Prompt, error) {
	tmpl, err := template.New("analysis").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render executes the template for a.
func (p *Prompt) Render(a domain.Artifact) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, NewPromptData(a)); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
