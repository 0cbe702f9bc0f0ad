package server

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLEncodedPreservesOrder(t *testing.T) {
	data, keys, err := parseURLEncoded("name=Alice&message=hello+world&_replyto=a%40b.co")
	assert.NoError(t, err)
	assert.Equal(t, []string{"name", "message", "_replyto"}, keys)
	assert.Equal(t, "Alice", data["name"])
	assert.Equal(t, "hello world", data["message"])
	assert.Equal(t, "a@b.co", data["_replyto"])
}

func TestParseURLEncodedRepeatedFields(t *testing.T) {
	// repeats keep the last value at the first position
	data, keys, err := parseURLEncoded("a=1&b=2&a=3")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, "3", data["a"])
}

func TestParseURLEncodedEmpty(t *testing.T) {
	data, keys, err := parseURLEncoded("")
	assert.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, keys)

	// a bare key is an empty value
	data, keys, err = parseURLEncoded("name")
	assert.NoError(t, err)
	assert.Equal(t, []string{"name"}, keys)
	assert.Equal(t, "", data["name"])
}

func TestParseMultipartPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("zebra", "first"))
	require.NoError(t, w.WriteField("apple", "second"))
	part, err := w.CreateFormFile("attachment", "x.bin")
	require.NoError(t, err)
	_, _ = part.Write([]byte("ignored"))
	require.NoError(t, w.Close())

	data, keys, err := parseMultipart(buf.Bytes(), w.Boundary())
	assert.NoError(t, err)
	// part order, not alphabetical; file parts are skipped
	assert.Equal(t, []string{"zebra", "apple"}, keys)
	assert.Equal(t, "first", data["zebra"])
	assert.Equal(t, "second", data["apple"])
}

func TestParseJSONBodyPreservesOrder(t *testing.T) {
	data, keys, err := parseJSONBody([]byte(`{"zebra": "z", "apple": 1.5, "flag": true, "gone": null}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"zebra", "apple", "flag", "gone"}, keys)
	assert.Equal(t, "z", data["zebra"])
	assert.Equal(t, "1.5", data["apple"])
	assert.Equal(t, "true", data["flag"])
	assert.Equal(t, "", data["gone"])
}

func TestParseJSONBodyGarbage(t *testing.T) {
	// unreadable or non-object bodies degrade to an empty submission
	data, keys, err := parseJSONBody([]byte("not json"))
	assert.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, keys)

	data, _, err = parseJSONBody([]byte(`["a", "b"]`))
	assert.NoError(t, err)
	assert.Empty(t, data)
}

func TestParseSubmissionContentTypes(t *testing.T) {
	// urlencoded (and anything unrecognized) goes through the pair walk
	r := httptest.NewRequest("POST", "/", strings.NewReader("a=1&b=2"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	data, keys, err := parseSubmission(r)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, "1", data["a"])

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"a": "1"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	data, _, err = parseSubmission(r)
	assert.NoError(t, err)
	assert.Equal(t, "1", data["a"])
}

func TestRequestWantsJSON(t *testing.T) {
	// XHR posts always get JSON
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, requestWantsJSON(r))

	// Accept preferring json over html
	r = httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Accept", "application/json, text/html")
	assert.True(t, requestWantsJSON(r))

	r = httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Accept", "text/html, application/json")
	assert.False(t, requestWantsJSON(r))

	// a JSON body implies JSON unless the client explicitly prefers html
	r = httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Content-Type", "application/json")
	assert.True(t, requestWantsJSON(r))

	r = httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "text/html")
	assert.False(t, requestWantsJSON(r))

	// a bare browser form post gets HTML
	r = httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.False(t, requestWantsJSON(r))
}
