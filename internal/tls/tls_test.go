package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/keepr/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), v)
	v, err = ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), v)
	_, err = ParseVersion("1.0")
	assert.Error(t, err)
}

func TestServerConfigDisabled(t *testing.T) {
	cfg, err := ServerConfig(config.TLSSettings{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestServerConfigNeedsCertificates(t *testing.T) {
	_, err := ServerConfig(config.TLSSettings{Enabled: true})
	assert.Error(t, err)

	// dir without auto_generate and without files
	_, err = ServerConfig(config.TLSSettings{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestAutoGeneratedCertificateServesHTTPS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	srvCfg, err := ServerConfig(config.TLSSettings{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		MinVersion:   "1.2",
	})
	require.NoError(t, err)
	require.NotNil(t, srvCfg)
	assert.FileExists(t, filepath.Join(dir, CertFileName))
	assert.FileExists(t, filepath.Join(dir, KeyFileName))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{
		TLSConfig:         srvCfg,
		ReadHeaderTimeout: time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}
	go func() {
		if err := srv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("serve: %v", err)
		}
	}()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	cliCfg, err := ClientConfig(filepath.Join(dir, CertFileName))
	require.NoError(t, err)
	c := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{TLSClientConfig: cliCfg}}
	resp, err := c.Get("https://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	// an untrusting client is rejected
	plain := &http.Client{Timeout: 5 * time.Second}
	_, err = plain.Get("https://" + ln.Addr().String() + "/")
	assert.Error(t, err)
}

func TestExistingCertificateIsKept(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "api.crt")
	keyPath := filepath.Join(dir, "api.key")
	require.NoError(t, GenerateSelfSigned(CertOptions{Hosts: []string{"example.test"}, CertPath: certPath, KeyPath: keyPath}))

	cfg, err := ServerConfig(config.TLSSettings{Enabled: true, CertFile: certPath, KeyFile: keyPath})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestClientConfigRejectsNonPEM(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, writePEM(p, "NOTHING", []byte{1}, 0o644))
	_, err := ClientConfig(p)
	assert.ErrorContains(t, err, "no PEM certificates")
	_, err = ClientConfig(p + ".missing")
	assert.Error(t, err)
}
