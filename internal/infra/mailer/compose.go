package mailer

import (
	"bytes"
	"html/template"
)

// Body is the content of one branded email. Values are escaped on render.
type Body struct {
	Heading    string
	Paragraphs []string
	Rows       []Field
	ButtonText string
	ButtonURL  string
}

type Field struct {
	Label string
	Value string
}

var layout = template.Must(template.New("email").Parse(`<!doctype html>
<html>
<head><meta charset="UTF-8"><title>{{.Heading}}</title></head>
<body style="margin:0;padding:24px;background:#f4f6f8;font-family:Helvetica,Arial,sans-serif;color:#1f2933;">
  <div style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px;">
    <h1 style="margin:0 0 16px;font-size:22px;color:#0b5394;">{{.Heading}}</h1>
    {{range .Paragraphs}}<p style="line-height:1.5;">{{.}}</p>
    {{end}}{{if .Rows}}<table style="border-collapse:collapse;width:100%;margin:16px 0;">
      {{range .Rows}}<tr><td style="padding:6px 8px;border-bottom:1px solid #e4e7eb;font-weight:bold;">{{.Label}}</td><td style="padding:6px 8px;border-bottom:1px solid #e4e7eb;">{{.Value}}</td></tr>
      {{end}}</table>{{end}}
    {{if .ButtonURL}}<p style="margin:24px 0;"><a href="{{.ButtonURL}}" style="background:#0b5394;color:#ffffff;padding:12px 20px;border-radius:6px;text-decoration:none;">{{.ButtonText}}</a></p>{{end}}
    <p style="font-size:12px;color:#7b8794;margin-top:32px;">HandyToKnow</p>
  </div>
</body>
</html>`))

// Compose renders b into the shared HTML layout.
func Compose(b Body) (string, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
