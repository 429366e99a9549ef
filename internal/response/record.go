package response

import "slices"

// Record is the structurally serialisable form of a Response. It is what
// crosses a port between workers.
type Record struct {
	URLList  []string     `json:"url_list,omitempty"`
	Headers  HeaderRecord `json:"headers"`
	Type     string       `json:"type"`
	Body     []byte       `json:"body"`
	BodyUsed bool         `json:"body_used"`
}

type HeaderRecord struct {
	Guard Guard       `json:"guard"`
	List  [][2]string `json:"list"`
}

// Serialize snapshots r into a Record. The response is not consumed.
func (r *Response) Serialize() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	guard, headers := r.headers.snapshot()
	list := make([][2]string, len(headers))
	for i, hdr := range headers {
		list[i] = [2]string{hdr.Name, hdr.Value}
	}
	return Record{
		URLList:  slices.Clone(r.urlList),
		Headers:  HeaderRecord{Guard: guard, List: list},
		Type:     r.contentType,
		Body:     slices.Clone(r.body),
		BodyUsed: r.bodyUsed,
	}
}

// Deserialize rebuilds a Response from rec.
func Deserialize(rec Record) *Response {
	guard := rec.Headers.Guard
	if guard == "" {
		guard = GuardNone
	}
	headers := &Headers{guard: guard}
	for _, pair := range rec.Headers.List {
		headers.list = append(headers.list, Header{Name: pair[0], Value: pair[1]})
	}
	body := slices.Clone(rec.Body)
	if body == nil {
		body = []byte{}
	}
	return &Response{
		urlList:     slices.Clone(rec.URLList),
		headers:     headers,
		contentType: rec.Type,
		body:        body,
		bodyUsed:    rec.BodyUsed,
	}
}
