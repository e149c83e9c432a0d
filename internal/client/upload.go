package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// File is one file part of a multipart upload.
type File struct {
	// FieldName defaults to "file".
	FieldName   string
	Name        string
	ContentType string
	Content     io.Reader
}

// UploadFile POSTs file and fields as multipart/form-data. The body is
// buffered so that retries resend identical bytes.
func (c *Client) UploadFile(ctx context.Context, endpoint string, file File, fields map[string]string) (*Response, error) {
	if file.Content == nil {
		return nil, fmt.Errorf("upload %s: file content is nil", endpoint)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, fmt.Errorf("upload %s: write field %q: %w", endpoint, name, err)
		}
	}

	part, err := w.CreatePart(fileHeader(file))
	if err != nil {
		return nil, fmt.Errorf("upload %s: create file part: %w", endpoint, err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, fmt.Errorf("upload %s: read file: %w", endpoint, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload %s: close multipart body: %w", endpoint, err)
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		endpoint:    endpoint,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileHeader(file File) textproto.MIMEHeader {
	field := file.FieldName
	if field == "" {
		field = "file"
	}
	name := file.Name
	if name == "" {
		name = "upload"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	return h
}
