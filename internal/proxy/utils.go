package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// hopHeaders only make sense between the client and this server
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}

// prepareRequest turns an incoming server request into a client request for
// target. A relative target is rebuilt from the request's Host header.
func prepareRequest(requ *http.Request, target *url.URL) (*http.Request, error) {
	out := requ.Clone(requ.Context())
	out.URL = target
	if !out.URL.IsAbs() {
		u, err := url.Parse(getTargetURL(requ))
		if err != nil {
			return nil, fmt.Errorf("invalid target URL: %w", err)
		}
		out.URL = u
	}
	out.Host = out.URL.Host
	out.RequestURI = ""

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if key == "Content-Length" && resp.ContentLength < 0 {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}
