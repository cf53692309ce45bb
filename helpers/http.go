package helpers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html/charset"
)

// UserAgent identifies the sync client to the backend
const UserAgent = "smartswipe-sync/1.0"

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// OK reports whether the response has a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewClient returns an HTTP client with the given timeout
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Do sends the request with the standard client headers and reads the entire
// body. Bodies declared in a non UTF-8 charset are converted to UTF-8.
// A non-nil error means no usable response was received.
func Do(ctx context.Context, client *http.Client, req *http.Request) (*Response, error) {
	requestID := uuid.NewString()
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	bodyBytes, err = toUTF8(bodyBytes, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       bodyBytes,
		RequestID:  requestID,
	}, nil
}

// toUTF8 converts body to UTF-8 when the content type names another charset
func toUTF8(body []byte, contentType string) ([]byte, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, nil
	}
	label, ok := params["charset"]
	if !ok || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return body, nil
	}

	reader, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		// Unknown label, hand back the raw bytes
		return body, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("failed to read converted UTF-8 body: %w", err)
	}
	return buf.Bytes(), nil
}
