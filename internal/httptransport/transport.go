package httptransport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTTFBTimeout is the time allowed between sending a request and
// the first byte of the origin's response
const DefaultTTFBTimeout = 15 * time.Second

var (
	sysPoolOnce = &sync.Once{}
	sysPool     *x509.CertPool
)

// NewTransport returns a http.Transport to reach the origin. Root certificates
// come from the system pool plus SSL_CERT_FILE and SSL_CERT_DIR.
func NewTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool()},
		Proxy:           http.ProxyFromEnvironment,
		// overrides the DefaultMaxIdleConnsPerHost = 2
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// SSL_CERT_FILE and SSL_CERT_DIR are read lazily, on the first TLS dial
func pool() *x509.CertPool {
	sysPoolOnce.Do(loadPool)
	return sysPool
}

func loadPool() {
	var err error

	sysPool, err = x509.SystemCertPool()
	if err != nil {
		log.WithError(err).Error("failed to load system cert pool for http client")
		sysPool = x509.NewCertPool()
	}

	if sslCertFile := os.Getenv("SSL_CERT_FILE"); sslCertFile != "" {
		certPem, err := os.ReadFile(sslCertFile)
		if err != nil {
			log.WithError(err).Error("failed to read SSL_CERT_FILE")
		} else {
			sysPool.AppendCertsFromPEM(certPem)
		}
	}

	if err := loadCertDir(sysPool, os.Getenv("SSL_CERT_DIR")); err != nil {
		log.WithError(err).Warn("failed to load SSL_CERT_DIR")
	}
}

func loadCertDir(certPool *x509.CertPool, dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read SSL_CERT_DIR: %w", err)
	}

	for _, entry := range entries {
		// Copy only regular files and symlinks
		mode := entry.Type()
		if !(mode.IsRegular() || mode&os.ModeSymlink != 0) {
			continue
		}

		cert, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.WithError(err).Warnf("failed to open cert, skipping: %q", entry.Name())
			continue
		}

		if ok := certPool.AppendCertsFromPEM(cert); !ok {
			log.Warnf("failed to append to cert pool, skipping: %q", entry.Name())
		}
	}

	return nil
}
