package client

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
)

// Response is a successful (2xx) reply. Method, URL and Attempt describe the
// request that produced it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Method     string
	URL        string
	Attempt    int
}

// IsJSON reports whether the server declared a JSON body.
func (r *Response) IsJSON() bool {
	return isJSONContentType(r.Header.Get("Content-Type"))
}

// Text returns the raw body.
func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if !r.IsJSON() {
		return r.parseError("response is not JSON", nil)
	}
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return r.parseError("decode response body", err)
	}
	return nil
}

func (r *Response) parseError(message string, cause error) *Error {
	return &Error{
		Kind:    KindParse,
		Message: message,
		Status:  r.StatusCode,
		Method:  r.Method,
		URL:     r.URL,
		Attempt: r.Attempt,
		Err:     cause,
	}
}

// Value returns the parsed body: the decoded JSON value for JSON responses,
// otherwise the body as text.
func (r *Response) Value() any {
	if !r.IsJSON() {
		return r.Text()
	}
	var v any
	if err := r.Decode(&v); err != nil {
		return r.Text()
	}
	return v
}

// DecodeAs decodes the response of a client call into T, passing through
// the call's error.
func DecodeAs[T any](resp *Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func isJSONContentType(value string) bool {
	if value == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

const maxErrorMessageLen = 512

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte, contentType string, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var payload map[string]any
		if json.Unmarshal(trimmed, &payload) == nil {
			if msg := messageFrom(payload); msg != "" {
				return msg
			}
		} else if !isJSONContentType(contentType) {
			text := string(trimmed)
			if len(text) > maxErrorMessageLen {
				text = text[:maxErrorMessageLen]
			}
			return text
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}

func messageFrom(payload map[string]any) string {
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	switch e := payload["error"].(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}
