// internal/certs/certs.go
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultPlatform is the trust store every run requires. Other platforms extend it.
const DefaultPlatform = "default"

// ErrMissingDefaultPlatform is returned when the certificate directory has no
// "default" platform.
var ErrMissingDefaultPlatform = errors.New("platform 'default' is missing from certificate directories")

// Platforms maps platform names to their root certificate pools.
type Platforms map[string]*x509.CertPool

// Names returns the platform names in sorted order.
func (p Platforms) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DiscoverPlatforms returns the names of the subdirectories of dir, sorted. It
// fails with ErrMissingDefaultPlatform when "default" is not among them.
func DiscoverPlatforms(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificate directory: %w", err)
	}

	var names []string
	hasDefault := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
		if e.Name() == DefaultPlatform {
			hasDefault = true
		}
	}
	if !hasDefault {
		return nil, ErrMissingDefaultPlatform
	}
	sort.Strings(names)
	return names, nil
}

// LoadPlatforms builds a pool per platform. The default pool holds the
// certificates under dir/default; every other pool holds those plus the
// certificates of its own directory.
func LoadPlatforms(dir string, names []string) (Platforms, error) {
	defaultCerts, err := readBundle(filepath.Join(dir, DefaultPlatform))
	if err != nil {
		return nil, fmt.Errorf("platform %q: %w", DefaultPlatform, err)
	}

	platforms := make(Platforms, len(names)+1)
	platforms[DefaultPlatform] = newPool(defaultCerts)

	for _, name := range names {
		if name == DefaultPlatform {
			continue
		}
		own, err := readBundle(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", name, err)
		}
		platforms[name] = newPool(append(append([]*x509.Certificate{}, defaultCerts...), own...))
	}
	return platforms, nil
}

func newPool(certs []*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

// readBundle parses every PEM certificate in the *.pem and *.crt files of dir.
func readBundle(dir string) ([]*x509.Certificate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle: %w", err)
	}

	var certs []*x509.Certificate
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".pem" && ext != ".crt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := parsePEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		certs = append(certs, parsed...)
	}
	return certs, nil
}

func parsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// CA holds the certificate, private key, and certificate pool for a dynamically
// generated Certificate Authority. It backs local fixtures and tests that need
// a platform trust store.
type CA struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	CertPool   *x509.CertPool
}

// NewCA creates and initializes a new self-signed Certificate Authority.
func NewCA(organization string) (*CA, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{organization},
		},
		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  time.Now().Add(time.Hour * 24 * 365),

		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	// Self-signed: the template is both the certificate and its issuer.
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(cert)

	return &CA{
		Cert:       cert,
		PrivateKey: privateKey,
		CertPool:   certPool,
	}, nil
}

// PEM returns the CA certificate in PEM form, as stored in a platform directory.
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
}

// IssueServerCert signs a leaf certificate for the given DNS names and IP addresses.
func (ca *CA) IssueServerCert(hosts ...string) (tls.Certificate, error) {
	if len(hosts) == 0 {
		return tls.Certificate{}, errors.New("at least one host is required")
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der, ca.Cert.Raw}, PrivateKey: key}, nil
}
