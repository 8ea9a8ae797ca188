// Package remote is the HTTP client for the field-sales backend API.
//
// Every failure to reach the API or any non-2xx response is returned as a
// SYNC_REMOTE_ERROR (or SYNC_TIMEOUT) AppError, which the sync engine treats
// as transient. 4xx and 5xx responses are not told apart.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
)

const (
	DefaultTimeout = 30 * time.Second

	// maxResponseBody bounds how much of a response is read.
	maxResponseBody = 1 << 20
)

// Client wraps *http.Client with the helpers the sync handlers need.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	// Headers are sent with every request.
	Headers http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTP = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTP.Timeout = d
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" && value != "" {
			c.Headers.Set(key, value)
		}
	}
}

// WithBearerToken passes an opaque API token through as a bearer header.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", bearer(token))
}

func bearer(token string) string {
	if strings.TrimSpace(token) == "" {
		return ""
	}
	return "Bearer " + strings.TrimSpace(token)
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New(errors.ErrSyncNotConfigured, "remote api base url is not configured")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid base url", err)
	}
	c := &Client{
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		Headers: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("http error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Part is one field of a multipart request. Parts with a FileName are sent
// as files.
type Part struct {
	Name        string
	FileName    string
	ContentType string
	Data        []byte
}

// FilePart builds a file part, sniffing the content type when empty.
func FilePart(name, fileName, contentType string, data []byte) Part {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return Part{Name: name, FileName: fileName, ContentType: contentType, Data: data}
}

// JSONPart builds a part holding v as JSON.
func JSONPart(name string, v any) (Part, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Part{}, errors.Wrap(errors.ErrInvalid, "marshal "+name, err)
	}
	return Part{Name: name, ContentType: "application/json", Data: data}, nil
}

// PostJSON posts in as JSON to path and decodes the response into out.
// out may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, headers http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "marshal request body", err)
	}
	return c.do(ctx, http.MethodPost, path, headers, "application/json", bytes.NewReader(body), out)
}

// PostMultipart posts parts as multipart/form-data to path.
func (c *Client) PostMultipart(ctx context.Context, path string, headers http.Header, parts []Part, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.FileName != "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.Name, p.FileName))
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.Name))
		}
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "create multipart part", err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return errors.Wrap(errors.ErrInternal, "write multipart part", err)
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(errors.ErrInternal, "close multipart body", err)
	}
	return c.do(ctx, http.MethodPost, path, headers, w.FormDataContentType(), &buf, out)
}

// Ping issues a GET to path and reports whether the API answered 2xx.
func (c *Client) Ping(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(path), body)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "new request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range c.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return errors.Wrap(errors.ErrSyncTimeout, method+" "+path, err)
		}
		return errors.Wrap(errors.ErrSyncRemote, method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrap(errors.ErrSyncRemote, method+" "+path, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		})
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(errors.ErrSyncRemote, "decode response of "+method+" "+path, err)
	}
	return nil
}

func (c *Client) resolveURL(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

func isTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
