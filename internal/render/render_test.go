package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formbridge/internal/model"
)

func newRenderer(t *testing.T) *TemplateRenderer {
	t.Helper()
	r, err := NewTemplateRenderer()
	require.NoError(t, err)
	return r
}

func TestRenderText(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render("form.txt", map[string]interface{}{
		"host": "example.com/contact",
		"now":  "03:04 PM UTC - 02 January 2026",
		"keys": []string{"name", "message"},
		"data": map[string]string{"name": "Alice", "message": "hello"},
		"unconfirm_url": "https://formbridge.io/unconfirm/1/x",
	})
	assert.NoError(t, err)
	assert.Contains(t, out, "example.com/contact")
	assert.Contains(t, out, "name: Alice")
	assert.Contains(t, out, "message: hello")
	assert.Contains(t, out, "https://formbridge.io/unconfirm/1/x")
}

func TestRenderHTMLInlinesCSS(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render("form.html", map[string]interface{}{
		"host":             "example.com/contact",
		"now":              "03:04 PM UTC - 02 January 2026",
		"keys":             []string{"name"},
		"data":             map[string]string{"name": "Alice"},
		"submission_count": 3,
		"upgraded":         false,
		"spam_url":         "https://formbridge.io/submissions/1/spam/x",
		"unconfirm_url":    "https://formbridge.io/unconfirm/1/x",
	})
	assert.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "Mark as spam")
	// email output carries inlined styles instead of style blocks
	assert.Contains(t, out, `style=`)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := newRenderer(t)
	_, err := r.Render("nope.txt", nil)
	assert.Error(t, err)
}

func TestMustacheContext(t *testing.T) {
	ctx := MustacheContext(
		map[string]string{"name": "Alice", "message": "hello"},
		"example.com/contact",
		[]string{"name", "message"},
		"03:04 PM UTC - 02 January 2026",
		"https://formbridge.io/unconfirm/1/x",
	)

	assert.Equal(t, "Alice", ctx["name"])
	assert.Equal(t, "example.com/contact", ctx["_host"])
	assert.Equal(t, "https://formbridge.io/unconfirm/1/x", ctx["_unsubscribe"])

	fields := ctx["_fields"].([]map[string]string)
	require.Len(t, fields, 2)
	assert.Equal(t, "name", fields[0]["_name"])
	assert.Equal(t, "Alice", fields[0]["_value"])
}

func TestCustomBody(t *testing.T) {
	tmpl := &model.EmailTemplate{
		Style: "p { color: red; }",
		Body:  "<p>Hi {{name}}</p>",
	}
	ctx := map[string]interface{}{"name": "Alice"}

	out, err := CustomBody(tmpl, ctx, "https://formbridge.io/unconfirm/1/x")
	assert.NoError(t, err)
	assert.Contains(t, out, "Hi Alice")
	// a template without an unsubscribe link gets one appended
	assert.Contains(t, out, "https://formbridge.io/unconfirm/1/x")
	assert.Contains(t, out, "unsubscribe")
}

func TestCustomBodyKeepsExistingUnsubscribe(t *testing.T) {
	unconfirm := "https://formbridge.io/unconfirm/1/x"
	tmpl := &model.EmailTemplate{
		Body: `<p>Hi {{name}}</p><a href="` + unconfirm + `">stop</a>`,
	}

	out, err := CustomBody(tmpl, map[string]interface{}{"name": "Alice"}, unconfirm)
	assert.NoError(t, err)
	assert.NotContains(t, out, "click here to unsubscribe")
}

func TestCustomSubject(t *testing.T) {
	tmpl := &model.EmailTemplate{Subject: "Message from {{name}}"}
	subject, err := CustomSubject(tmpl, map[string]interface{}{"name": "Alice"})
	assert.NoError(t, err)
	assert.Equal(t, "Message from Alice", subject)
}
