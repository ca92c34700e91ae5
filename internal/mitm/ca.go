// Package mitm implements the CLI-side TLS-intercepting proxy: a
// locally spawned listener that fronts a remote sandbox for a real browser,
// minting per-host leaf certificates from an in-memory CA and tunneling
// traffic to the sandbox over a WebSocket.
package mitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CA is a self-signed certificate authority generated fresh at process
// startup and kept entirely in memory; it is never persisted to disk, since
// it only needs to be trusted for the lifetime of one browser session.
type CA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey

	mu    sync.Mutex
	cache map[string]*tls.Certificate
}

// NewCA generates a fresh, unconstrained CA key pair and self-signed cert.
func NewCA() (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("mitm: generating ca key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("mitm: generating ca serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "cmux-sandbox-ca"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            -1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mitm: creating ca cert: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("mitm: parsing ca cert: %w", err)
	}

	return &CA{cert: cert, key: key, cache: make(map[string]*tls.Certificate)}, nil
}

// CertDER returns the CA certificate in DER form, e.g. for a browser's
// --ignore-certificate-errors-spki-list or a temporary NSS trust entry.
func (ca *CA) CertDER() []byte {
	return ca.cert.Raw
}

// LeafFor mints (and caches) a TLS certificate for host, signed by ca.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if leaf, ok := ca.cache[host]; ok {
		return leaf, nil
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("mitm: generating leaf key for %s: %w", host, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("mitm: generating leaf serial for %s: %w", host, err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &leafKey.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("mitm: signing leaf for %s: %w", host, err)
	}

	leaf := &tls.Certificate{Certificate: [][]byte{certDER, ca.cert.Raw}, PrivateKey: leafKey}
	ca.cache[host] = leaf
	return leaf, nil
}

func (ca *CA) tlsConfigFor(host string) (*tls.Config, error) {
	leaf, err := ca.LeafFor(host)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*leaf}}, nil
}
