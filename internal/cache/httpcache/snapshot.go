package httpcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Snapshot is an immutable copy of an HTTP response. Every call to Response
// hands out an independent *http.Response, so a later overwrite of the store
// never changes what a caller already received.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// NewSnapshot reads and closes resp.Body and captures the response
func NewSnapshot(resp *http.Response) (*Snapshot, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// framing is recomputed from Body
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")

	return &Snapshot{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// Storable reports whether the response may be put in a store.
// Partial content and responses varying on everything are never stored.
func (s *Snapshot) Storable() bool {
	if s.StatusCode == http.StatusPartialContent {
		return false
	}
	for _, v := range s.Header.Values("Vary") {
		if v == "*" {
			return false
		}
	}
	return true
}

// Response builds a fresh response for req from the snapshot
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
