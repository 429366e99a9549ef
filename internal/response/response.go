// Package response implements the synthetic module body carried by
// synthetic resolutions: a small HTTP-like response with headers, a body
// that may be read once, and the list of URLs it was resolved through.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
)

// ErrBodyUsed is returned by the second attempt to read a response body.
var ErrBodyUsed = errors.New("response: body already used")

// TextContentType is the content type assigned to text bodies when the
// caller did not provide one.
const TextContentType = "text/plain;charset=UTF-8"

// Init carries optional construction parameters for New.
type Init struct {
	Headers map[string]string
}

type Response struct {
	mu          sync.Mutex
	urlList     []string
	headers     *Headers
	contentType string
	body        []byte
	bodyUsed    bool
}

// New creates a response with a byte body. The content type is taken from
// the content-type header when present.
func New(body []byte, init Init) *Response {
	return newResponse(slices.Clone(body), "", init)
}

// NewText creates a response with a UTF-8 text body. Without an explicit
// content-type header, TextContentType is appended.
func NewText(body string, init Init) *Response {
	return newResponse([]byte(body), TextContentType, init)
}

func newResponse(body []byte, contentType string, init Init) *Response {
	headers := NewHeaders(init.Headers)
	if v, ok := headers.Get("content-type"); ok {
		contentType = v
	} else if contentType != "" {
		_ = headers.Append("content-type", contentType)
	}
	if body == nil {
		body = []byte{}
	}
	return &Response{headers: headers, contentType: contentType, body: body}
}

// Redirect creates a response pointing at rawURL: an empty body and an
// immutable header list holding a single Location header.
func Redirect(rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("response: redirect: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("response: redirect: %q is not an absolute URL", rawURL)
	}
	href := u.String()
	headers := &Headers{guard: GuardNone}
	_ = headers.Append("Location", href)
	headers.guard = GuardImmutable
	return &Response{
		urlList: []string{href},
		headers: headers,
		body:    []byte{},
	}, nil
}

// URL returns the last URL the response was resolved through, or "".
func (r *Response) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.urlList) == 0 {
		return ""
	}
	return r.urlList[len(r.urlList)-1]
}

func (r *Response) URLList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.urlList)
}

// Headers returns the response's live header list. Mutations are visible to
// later Serialize and Clone calls.
func (r *Response) Headers() *Headers {
	return r.headers
}

func (r *Response) ContentType() string {
	return r.contentType
}

func (r *Response) BodyUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyUsed
}

// Clone returns an independent copy, including the body-used state.
func (r *Response) Clone() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Response{
		urlList:     slices.Clone(r.urlList),
		headers:     r.headers.clone(),
		contentType: r.contentType,
		body:        slices.Clone(r.body),
		bodyUsed:    r.bodyUsed,
	}
}

// consume marks the body as used and returns a copy of it.
func (r *Response) consume() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyUsed {
		return nil, ErrBodyUsed
	}
	r.bodyUsed = true
	return slices.Clone(r.body), nil
}

func (r *Response) Bytes() ([]byte, error) {
	return r.consume()
}

func (r *Response) Text() (string, error) {
	b, err := r.consume()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	b, err := r.consume()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("response: decode json body: %w", err)
	}
	return nil
}
