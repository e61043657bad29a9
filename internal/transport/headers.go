package transport

import (
	"net/http"
	"sort"
	"strings"
)

// excludedHeaders are never forwarded to a backend.
var excludedHeaders = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"keep-alive":          {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"proxy-connection":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

// IsExcludedHeader reports whether name must not be forwarded.
func IsExcludedHeader(name string) bool {
	_, ok := excludedHeaders[strings.ToLower(name)]
	return ok
}

// Headers is an ordered header map with case-insensitive keys. The first
// spelling of a key is kept for output. A nil *Headers is empty.
type Headers struct {
	order  []string
	names  map[string]string
	values map[string]string
}

// NewHeaders returns an empty header set.
func NewHeaders() *Headers {
	return &Headers{
		names:  make(map[string]string),
		values: make(map[string]string),
	}
}

// Set stores value under name, replacing any value with the same key.
func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, key)
		h.names[key] = name
	}
	h.values[key] = value
}

// Get returns the value for name.
func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Del removes name.
func (h *Headers) Del(name string) {
	if h == nil {
		return
	}
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	delete(h.names, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.order)
}

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, key := range h.order {
		fn(h.names[key], h.values[key])
	}
}

// clientManagedHeaders are left to the outbound http.Client. A caller's
// Accept-Encoding would switch off transparent gzip decoding and leave a
// compressed payload in Result.Body.
var clientManagedHeaders = map[string]struct{}{
	"accept-encoding": {},
}

// ApplyTo copies every header into dst, skipping excluded ones and those the
// http.Client negotiates itself.
func (h *Headers) ApplyTo(dst http.Header) {
	h.Each(func(name, value string) {
		if IsExcludedHeader(name) {
			return
		}
		if _, ok := clientManagedHeaders[strings.ToLower(name)]; ok {
			return
		}
		dst.Set(name, value)
	})
}

// FromHTTP builds forwardable headers from an inbound request. Multi-valued
// headers are joined with ", ". Excluded headers are dropped. Keys are
// added in sorted order so the result is deterministic.
func FromHTTP(src http.Header) *Headers {
	names := make([]string, 0, len(src))
	for name := range src {
		if !IsExcludedHeader(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	h := NewHeaders()
	for _, name := range names {
		h.Set(name, strings.Join(src[name], ", "))
	}
	return h
}
