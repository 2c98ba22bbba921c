package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"civic-shield/internal/config"
)

func TestNewManagerRequiresCertificateOutsideDevelopment(t *testing.T) {
	_, err := NewManager(config.ServerConfig{EnableTLS: true}, false, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewManager(config.ServerConfig{EnableTLS: true, AutoCert: true}, false, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestDevelopmentCertificateIsReused(t *testing.T) {
	m, err := NewManager(config.ServerConfig{EnableTLS: true, Domain: "vote.local"}, true, zaptest.NewLogger(t))
	require.NoError(t, err)

	first, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "vote.local"})
	require.NoError(t, err)
	second, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "vote.local"})
	require.NoError(t, err)
	assert.Same(t, first, second)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "vote.local")
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.Len(t, leaf.IPAddresses, 2)
}

func TestHTTPHandlerRedirects(t *testing.T) {
	m, err := NewManager(config.ServerConfig{EnableTLS: true}, true, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://vote.local/api/v1/results/1?x=1", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://vote.local/api/v1/results/1?x=1", rec.Header().Get("Location"))
}

func TestTLSConfigFloor(t *testing.T) {
	m, err := NewManager(config.ServerConfig{EnableTLS: true}, true, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), m.TLSConfig().MinVersion)
}
