// Package tls builds the TLS configuration of the status API and of the
// client talking to it.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/keepr/internal/config"
)

// File names used inside TLSSettings.Dir.
const (
	CertFileName = "tls.crt"
	KeyFileName  = "tls.key"
)

const defaultValidity = 365 * 24 * time.Hour

// ParseVersion maps "1.2" or "1.3" to the crypto/tls constant. Empty means 1.3.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", v)
}

// ServerConfig returns the server TLS config for s, or nil when TLS is
// disabled. The key pair is checked up front and reloaded from disk when its
// files change, so certificates can be rotated without a restart.
func ServerConfig(s config.TLSSettings) (*tls.Config, error) {
	if !s.Enabled {
		return nil, nil
	}
	minVer, err := ParseVersion(s.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := s.CertFile, s.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case s.Dir != "":
		certPath = filepath.Join(s.Dir, CertFileName)
		keyPath = filepath.Join(s.Dir, KeyFileName)
		if s.AutoGenerate && !exists(certPath, keyPath) {
			if err := os.MkdirAll(s.Dir, 0o750); err != nil {
				return nil, fmt.Errorf("create TLS dir: %w", err)
			}
			err := GenerateSelfSigned(CertOptions{
				Hosts:    s.Hosts,
				ValidFor: defaultValidity,
				CertPath: certPath,
				KeyPath:  keyPath,
			})
			if err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}

	kp := &keyPair{certPath: certPath, keyPath: keyPath}
	if _, err := kp.get(); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() },
	}, nil
}

// ClientConfig returns a client TLS config trusting the PEM certificates in
// caFile in addition to the system pool.
func ClientConfig(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, err
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: no PEM certificates found", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

type keyPair struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
	fi, err := os.Stat(k.certPath)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cert != nil && fi.ModTime().Equal(k.modTime) {
		return k.cert, nil
	}
	c, err := tls.LoadX509KeyPair(k.certPath, k.keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	k.cert, k.modTime = &c, fi.ModTime()
	return k.cert, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
