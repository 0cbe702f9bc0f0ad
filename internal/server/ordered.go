package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const maxBodySize = 1 << 20

// parseSubmission reads the request payload into a flat string map
// while preserving the order fields appeared in. Field order matters
// downstream: emails and spreadsheets list fields the way the HTML
// form laid them out.
func parseSubmission(r *http.Request) (map[string]string, []string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read request body: %w", err)
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		return parseMultipart(body, params["boundary"])
	case strings.Contains(mediaType, "json"):
		return parseJSONBody(body)
	default:
		return parseURLEncoded(string(body))
	}
}

// parseURLEncoded walks the raw body pair by pair instead of using
// url.ParseQuery, which would scramble field order into map order.
// Repeated fields keep the last value but their first position.
func parseURLEncoded(body string) (map[string]string, []string, error) {
	data := make(map[string]string)
	var keys []string

	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		if _, seen := data[key]; !seen {
			keys = append(keys, key)
		}
		data[key] = value
	}
	return data, keys, nil
}

func parseMultipart(body []byte, boundary string) (map[string]string, []string, error) {
	if boundary == "" {
		return nil, nil, fmt.Errorf("multipart body without boundary")
	}

	data := make(map[string]string)
	var keys []string

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read multipart body: %w", err)
		}
		name := part.FormName()
		if name == "" || part.FileName() != "" {
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxBodySize))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read multipart field: %w", err)
		}
		if _, seen := data[name]; !seen {
			keys = append(keys, name)
		}
		data[name] = string(value)
	}
	return data, keys, nil
}

// parseJSONBody flattens a one-level JSON object to strings, reading
// keys in document order via the token stream
func parseJSONBody(body []byte) (map[string]string, []string, error) {
	data := make(map[string]string)
	var keys []string

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		// an unreadable body is treated as an empty submission
		return data, keys, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return data, keys, nil
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := keyTok.(string)
		if !ok {
			break
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			break
		}
		if _, seen := data[key]; !seen {
			keys = append(keys, key)
		}
		data[key] = stringifyJSONValue(raw)
	}
	return data, keys, nil
}

func stringifyJSONValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		return fmt.Sprintf("%t", value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// requestWantsJSON decides between a JSON and an HTML response for
// the intake endpoint. XHR posts and JSON-accepting clients get JSON,
// plain HTML form posts get pages and redirects.
func requestWantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "xmlhttprequest") {
		return true
	}
	if acceptBetter(r, "json", "html") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "json") && !acceptBetter(r, "html", "json") {
		return true
	}
	return false
}

// acceptBetter reports whether subject appears before against in the
// Accept header, a cheap stand-in for full q-value parsing
func acceptBetter(r *http.Request, subject, against string) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if accept == "" {
		return false
	}
	isub := strings.Index(accept, subject)
	if isub == -1 {
		return false
	}
	iaga := strings.Index(accept, against)
	return iaga == -1 || isub < iaga
}
