package wt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// DefaultCertValidity stays under the 14 day ceiling browsers put on
// certificates pinned with serverCertificateHashes.
const DefaultCertValidity = 13 * 24 * time.Hour

const defaultCertName = "dogechat"

// GenerateTLSConfig mints a throwaway certificate for the WebTransport
// listener. The returned fingerprint is the hex SHA-256 of the DER bytes,
// ready to hand to browser clients.
func GenerateTLSConfig(validity time.Duration, hostname string) (*tls.Config, string, error) {
	tmpl, err := certTemplate(time.Now(), validity, hostname)
	if err != nil {
		return nil, "", err
	}
	cert, err := selfSign(tmpl)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(cert.Certificate[0])

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS13, // QUIC
		Certificates: []tls.Certificate{cert},
	}
	return cfg, hex.EncodeToString(sum[:]), nil
}

// certTemplate describes a server-only leaf valid from an hour before now.
// An empty hostname names the certificate after the app; localhost is
// always covered so local clients can connect.
func certTemplate(now time.Time, validity time.Duration, hostname string) (*x509.Certificate, error) {
	if validity <= 0 {
		validity = DefaultCertValidity
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("wt: certificate serial: %w", err)
	}

	name, dns := defaultCertName, []string{"localhost"}
	if hostname != "" {
		name = hostname
		if hostname != "localhost" {
			dns = append(dns, hostname)
		}
	}

	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     dns,
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, nil
}

// selfSign signs tmpl with a fresh P-256 key, the only key type browsers
// accept for hash-pinned certificates.
func selfSign(tmpl *x509.Certificate) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("wt: certificate key: %w", err)
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("wt: sign certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("wt: parse certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}
