package certwatch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCertPair generates a self-signed certificate for cn and writes it to
// certFile/keyFile.
func writeCertPair(t *testing.T, certFile, keyFile, cn string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
}

// commonName extracts the leaf CN from the reloader's active certificate.
func commonName(t *testing.T, r *Reloader) string {
	t.Helper()
	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestReloader_LoadsInitialCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	writeCertPair(t, certFile, keyFile, "first.example.com")

	r, err := New(certFile, keyFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "first.example.com", commonName(t, r))
}

func TestReloader_MissingFilesFailFast(t *testing.T) {
	dir := t.TempDir()
	_, err := New(filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"), nil)
	require.Error(t, err)
}

func TestReloader_ReloadSwapsCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	writeCertPair(t, certFile, keyFile, "first.example.com")

	notified := 0
	r, err := New(certFile, keyFile, func() { notified++ })
	require.NoError(t, err)

	writeCertPair(t, certFile, keyFile, "second.example.com")
	require.NoError(t, r.Reload())

	assert.Equal(t, "second.example.com", commonName(t, r))
	assert.Equal(t, 1, notified)
}

func TestReloader_BrokenPairKeepsPreviousMaterial(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	writeCertPair(t, certFile, keyFile, "first.example.com")

	notified := 0
	r, err := New(certFile, keyFile, func() { notified++ })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(certFile, []byte("garbage"), 0o600))
	require.Error(t, r.Reload())

	// Handshakes keep working with the last good certificate.
	assert.Equal(t, "first.example.com", commonName(t, r))
	assert.Equal(t, 0, notified)
}

func TestReloader_ServesHandshakes(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	writeCertPair(t, certFile, keyFile, "localhost")

	r, err := New(certFile, keyFile, nil)
	require.NoError(t, err)

	// The returned certificate must be usable by crypto/tls.
	cert, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert.PrivateKey)
}

func TestReloader_WatchPicksUpReplacedFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	writeCertPair(t, certFile, keyFile, "first.example.com")

	reloaded := make(chan struct{}, 4)
	r, err := New(certFile, keyFile, func() { reloaded <- struct{}{} })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- r.Watch(ctx) }()

	// Give the watcher a moment to establish before replacing the files.
	time.Sleep(300 * time.Millisecond)

	// Atomic replace: write aside, then rename over the originals.
	writeCertPair(t, certFile+".new", keyFile+".new", "second.example.com")
	require.NoError(t, os.Rename(certFile+".new", certFile))
	require.NoError(t, os.Rename(keyFile+".new", keyFile))

	select {
	case <-reloaded:
	case <-time.After(10 * time.Second):
		t.Fatal("watcher never picked up the replaced certificate")
	}
	assert.Equal(t, "second.example.com", commonName(t, r))

	cancel()
	select {
	case err := <-watchDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
}
