package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/cbroglie/mustache"
	"github.com/vanng822/go-premailer/premailer"

	"formbridge/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer produces named text and HTML fragments. HTML output has
// its CSS inlined before being returned so it renders in email
// clients that strip style blocks.
type Renderer interface {
	Render(name string, ctx map[string]interface{}) (string, error)
}

// TemplateRenderer renders the embedded service templates
type TemplateRenderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// NewTemplateRenderer parses the embedded templates
func NewTemplateRenderer() (*TemplateRenderer, error) {
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html templates: %w", err)
	}
	return &TemplateRenderer{text: text, html: html}, nil
}

// Render renders the named template. Names ending in ".html" go
// through CSS inlining.
func (r *TemplateRenderer) Render(name string, ctx map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if strings.HasSuffix(name, ".html") {
		if err := r.html.ExecuteTemplate(&buf, name+".tmpl", ctx); err != nil {
			return "", fmt.Errorf("failed to render %s: %w", name, err)
		}
		return InlineCSS(buf.String())
	}
	if err := r.text.ExecuteTemplate(&buf, name+".tmpl", ctx); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderPage renders an HTML page template without CSS inlining.
// Inlining is for email clients; browser-facing pages don't need it.
func (r *TemplateRenderer) RenderPage(name string, ctx map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := r.html.ExecuteTemplate(&buf, name+".tmpl", ctx); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// InlineCSS moves style blocks into element style attributes
func InlineCSS(html string) (string, error) {
	p, err := premailer.NewPremailerFromString(html, premailer.NewOptions())
	if err != nil {
		return "", fmt.Errorf("failed to prepare css inliner: %w", err)
	}
	inlined, err := p.Transform()
	if err != nil {
		return "", fmt.Errorf("failed to inline css: %w", err)
	}
	return inlined, nil
}

// MustacheContext builds the variable map available to custom email
// templates: the raw submission fields plus the _fields list (in
// submission order), _time, _host and _unsubscribe.
func MustacheContext(data map[string]string, host string, keys []string, now, unconfirmURL string) map[string]interface{} {
	ctx := make(map[string]interface{}, len(data)+4)
	for k, v := range data {
		ctx[k] = v
	}

	fields := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := data[k]; ok {
			fields = append(fields, map[string]string{"_name": k, "_value": v})
		}
	}
	ctx["_fields"] = fields
	ctx["_time"] = now
	ctx["_host"] = host
	ctx["_unsubscribe"] = unconfirmURL
	return ctx
}

// CustomBody renders a form's custom template body, inlines its
// style and guarantees an unsubscribe link is present.
func CustomBody(t *model.EmailTemplate, ctx map[string]interface{}, unconfirmURL string) (string, error) {
	html, err := mustache.Render("<style>"+t.Style+"</style>"+t.Body, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render custom template body: %w", err)
	}
	inlined, err := InlineCSS(html)
	if err != nil {
		return "", err
	}
	if !strings.Contains(inlined, unconfirmURL) {
		suffix := fmt.Sprintf(
			`<table width="100%%"><tr><td>If you no longer wish to receive these emails <a href="%s">click here to unsubscribe</a>.</td></tr></table>`,
			unconfirmURL,
		)
		return inlined + suffix, nil
	}
	return inlined, nil
}

// CustomSubject renders a form's custom subject line
func CustomSubject(t *model.EmailTemplate, ctx map[string]interface{}) (string, error) {
	subject, err := mustache.Render(t.Subject, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render custom template subject: %w", err)
	}
	return subject, nil
}
