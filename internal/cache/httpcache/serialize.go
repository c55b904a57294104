package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// storedAtHeader carries Snapshot.StoredAt inside the serialized response.
// It is stripped again on Deserialize.
const storedAtHeader = "X-Offline-Cache-Stored-At"

// Serialize encodes a snapshot as a prefixed HTTP/1.1 response dump
func Serialize(s *Snapshot) ([]byte, error) {
	resp := s.Response(nil)
	resp.Header.Set(storedAtHeader, s.StoredAt.UTC().Format(time.RFC3339Nano))

	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

// Deserialize decodes data written by Serialize
func Deserialize(b []byte) (*Snapshot, error) {
	if len(b) < len(PREFIX) || string(b[:len(PREFIX)]) != PREFIX {
		return nil, fmt.Errorf("invalid prefix: expected '%s'", PREFIX)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached body: %w", err)
	}

	header := resp.Header.Clone()
	storedAt, _ := time.Parse(time.RFC3339Nano, header.Get(storedAtHeader))
	header.Del(storedAtHeader)
	header.Del("Content-Length")

	return &Snapshot{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		StoredAt:   storedAt,
	}, nil
}
