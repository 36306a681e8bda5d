// Package tls builds the API server's TLS configuration, generating a
// self-signed certificate on first use when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/craftd/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// parseMinVersion maps "1.2"/"1.3" to the crypto/tls constant. Empty means
// TLS 1.2.
func parseMinVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

// Paths returns the certificate and key files c resolves to; dir is used
// when c names no explicit files.
func Paths(c config.TLSConfig, dir string) (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	return filepath.Join(dir, certName), filepath.Join(dir, keyName)
}

// Setup returns nil when TLS is disabled. Certificates are read on every
// handshake so a renewed pair is picked up without a restart.
func Setup(c config.TLSConfig, dir string) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseMinVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := Paths(c, dir)
	if !exists(certPath) || !exists(keyPath) {
		explicit := c.CertFile != "" && c.KeyFile != ""
		if explicit || !c.AutoGenerate {
			return nil, errors.New("TLS enabled but no certificate found at " + certPath)
		}
		if err := GenerateSelfSigned(CertRequest{
			Hosts:    c.Hosts,
			NotAfter: time.Now().AddDate(0, 0, validDays(c.ValidDays)),
			CertPath: certPath,
			KeyPath:  keyPath,
		}); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			pair, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &pair, err
		},
	}, nil
}

func validDays(n int) int {
	if n <= 0 {
		return 365
	}
	return n
}

func exists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
