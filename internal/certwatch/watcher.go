package certwatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chatwire/hub/internal/metrics"
)

const reloadDebounce = 200 * time.Millisecond

// Reloader watches a certificate/key pair on disk and swaps the loaded
// certificate atomically when the files change. In-flight connections keep
// their session; only new handshakes see the fresh material.
type Reloader struct {
	certFile string
	keyFile  string

	cert atomic.Value // tls.Certificate

	// onReload runs after every successful swap; used to push a
	// best-effort notice to connected clients.
	onReload func()
}

// New loads the initial certificate and returns a reloader for it.
func New(certFile, keyFile string, onReload func()) (*Reloader, error) {
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		onReload: onReload,
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	r.cert.Store(cert)
	return r, nil
}

// GetCertificate satisfies tls.Config.GetCertificate. Each new handshake
// reads the currently active certificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.cert.Load().(tls.Certificate)
	return &cert, nil
}

// Reload re-reads the pair from disk and swaps it in. A broken pair on
// disk leaves the active certificate untouched.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		metrics.CertReloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload certificate pair: %w", err)
	}

	r.cert.Store(cert)
	metrics.CertReloadsTotal.WithLabelValues("success").Inc()
	slog.Info("TLS certificate reloaded", "cert_file", r.certFile)

	if r.onReload != nil {
		r.onReload()
	}
	return nil
}

// Watch blocks, reloading on file-system changes until ctx is canceled.
// Events are debounced: certificate and key are typically replaced as two
// writes in quick succession and must be picked up as one swap.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directories: renames and atomic replaces (the
	// common deployment pattern for cert renewal) would otherwise detach
	// the watch from the inode.
	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Certificate watcher error", "error", err)

		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				slog.Error("Certificate reload failed, keeping previous material", "error", err)
			}
		}
	}
}

func (r *Reloader) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Clean(r.certFile) || name == filepath.Clean(r.keyFile)
}
