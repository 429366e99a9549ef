package response

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"testing"
)

// Round trip through JSON, the way a record crosses a port.
func roundTrip(t *testing.T, r *Response) *Response {
	t.Helper()
	b, err := json.Marshal(r.Serialize())
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	return Deserialize(rec)
}

func TestSyntheticRoundTrip(t *testing.T) {
	r := New([]byte("hi"), Init{Headers: map[string]string{"content-type": "text/plain"}})
	got := roundTrip(t, r)

	if v, ok := got.Headers().Get("Content-Type"); !ok || v != "text/plain" {
		t.Errorf("Get(Content-Type) = %q, %v", v, ok)
	}
	text, err := got.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "hi" {
		t.Errorf("Text = %q, want %q", text, "hi")
	}
	if _, err := got.Text(); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("second read: got %v, want ErrBodyUsed", err)
	}
	if _, err := got.Bytes(); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("Bytes after Text: got %v, want ErrBodyUsed", err)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	r := NewText("body", Init{})
	_ = r.Headers().Append("X-Trace", "a")
	_ = r.Headers().Append("x-trace", "b")
	got := roundTrip(t, r)

	if !reflect.DeepEqual(got.Serialize(), r.Serialize()) {
		t.Errorf("records differ:\n got %#v\nwant %#v", got.Serialize(), r.Serialize())
	}
	if got.ContentType() != TextContentType {
		t.Errorf("content type = %q", got.ContentType())
	}
	if vals := got.Headers().GetAll("X-TRACE"); !reflect.DeepEqual(vals, []string{"a", "b"}) {
		t.Errorf("GetAll = %v", vals)
	}
}

func TestBodyUsedSurvivesRoundTrip(t *testing.T) {
	r := NewText("once", Init{})
	if _, err := r.Text(); err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, r)
	if !got.BodyUsed() {
		t.Fatal("body-used flag lost in round trip")
	}
	if _, err := got.Text(); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("got %v, want ErrBodyUsed", err)
	}
}

func TestJSONBody(t *testing.T) {
	r := New([]byte(`{"a":1}`), Init{Headers: map[string]string{"Content-Type": "application/json"}})
	var v map[string]int
	if err := r.JSON(&v); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if v["a"] != 1 {
		t.Errorf("decoded %v", v)
	}
	if err := r.JSON(&v); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("got %v, want ErrBodyUsed", err)
	}
}

func TestRedirect(t *testing.T) {
	r, err := Redirect("builtin:fs")
	if err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if loc, ok := r.Headers().Get("location"); !ok || loc != "builtin:fs" {
		t.Errorf("Location = %q, %v", loc, ok)
	}
	if r.Headers().Len() != 1 {
		t.Errorf("expected a single header, got %d", r.Headers().Len())
	}
	if !r.Headers().Immutable() {
		t.Error("redirect headers should be immutable")
	}
	if err := r.Headers().Append("x", "y"); !errors.Is(err, ErrImmutableHeaders) {
		t.Errorf("Append: got %v, want ErrImmutableHeaders", err)
	}
	if r.URL() != "builtin:fs" {
		t.Errorf("URL = %q", r.URL())
	}
	body, err := r.Bytes()
	if err != nil || len(body) != 0 {
		t.Errorf("body = %q, %v", body, err)
	}

	got := roundTrip(t, r)
	if !got.Headers().Immutable() {
		t.Error("immutability lost in round trip")
	}

	if _, err := Redirect("relative/path"); err == nil {
		t.Error("expected error for relative redirect target")
	}
}

func TestHeadersSetAndDelete(t *testing.T) {
	h := NewHeaders(map[string]string{"B": "2", "a": "1"})
	if l := h.List(); l[0].Name != "a" || l[1].Name != "b" {
		t.Fatalf("init order/case: %v", l)
	}
	_ = h.Append("A", "3")
	if err := h.Set("a", "x"); err != nil {
		t.Fatal(err)
	}
	if vals := h.GetAll("a"); !reflect.DeepEqual(vals, []string{"x"}) {
		t.Errorf("after Set: %v", vals)
	}
	_ = h.Set("c", "new")
	if v, _ := h.Get("C"); v != "new" {
		t.Errorf("Set should append missing names, got %q", v)
	}
	_ = h.Delete("B")
	if h.Has("b") {
		t.Error("Delete left b behind")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := NewText("x", Init{})
	c := r.Clone()
	_ = c.Headers().Append("extra", "1")
	if r.Headers().Has("extra") {
		t.Error("clone shares headers with original")
	}
	if _, err := c.Text(); err != nil {
		t.Fatal(err)
	}
	if r.BodyUsed() {
		t.Error("reading clone consumed the original")
	}
}

func TestNewHeadersCaseVariants(t *testing.T) {
	h := NewHeaders(map[string]string{"content-type": "y", "Content-Type": "x", "Accept": "a"})
	want := []Header{
		{Name: "accept", Value: "a"},
		{Name: "content-type", Value: "x"},
		{Name: "content-type", Value: "y"},
	}
	if got := h.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	if v, _ := h.Get("CONTENT-TYPE"); v != "x" {
		t.Errorf("Get = %q, want x", v)
	}
}

func TestHeadersConcurrentSerialize(t *testing.T) {
	r := New(nil, Init{})
	h := r.Headers()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			if err := h.Append("x-n", strconv.Itoa(i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			_ = r.Serialize()
			_ = r.Clone()
		}
	}()
	wg.Wait()

	if got := len(r.Serialize().Headers.List); got != 200 {
		t.Errorf("serialised %d headers, want 200", got)
	}
}
