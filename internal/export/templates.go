package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var proposalTemplate *template.Template

func init() {
	// Custom template functions
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/proposal.html")
	if err != nil {
		// Fallback to built-in template if file not found
		proposalTemplate = template.Must(template.New("proposal").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	proposalTemplate = template.Must(template.New("proposal").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for proposal template rendering
type TemplateData struct {
	PhaseName     string
	Status        string
	Amount        string
	ProjectName   string
	ClientCompany string
	ClientContact string
	Summary       string
	Scope         string
	Deliverables  string
	Terms         string
	ContentHTML   template.HTML
	ExportedAt    time.Time
}

// RenderProposalHTML renders the proposal template with provided data
func RenderProposalHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := proposalTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.PhaseName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .section { margin: 1.5rem 0; }
  </style>
</head>
<body>
  <h1>{{.PhaseName}}</h1>
  <div class="meta">{{.ClientCompany}} | {{.ProjectName}}{{if .Amount}} | {{.Amount}}{{end}}</div>
  {{if .Summary}}<div class="section"><h2>Summary</h2><p>{{.Summary}}</p></div>{{end}}
  {{if .Scope}}<div class="section"><h2>Scope</h2><p>{{.Scope}}</p></div>{{end}}
  {{if .Deliverables}}<div class="section"><h2>Deliverables</h2><p>{{.Deliverables}}</p></div>{{end}}
  {{if .Terms}}<div class="section"><h2>Terms</h2><p>{{.Terms}}</p></div>{{end}}
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
