package wt

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"testing"
	"time"
)

func TestGenerateTLSConfigReturnsValidCert(t *testing.T) {
	validity := 2 * time.Hour
	tlsCfg, fingerprint, err := GenerateTLSConfig(validity, "")
	if err != nil {
		t.Fatalf("GenerateTLSConfig: %v", err)
	}
	if len(fingerprint) != 64 { // SHA-256 hex
		t.Errorf("fingerprint length: got %d, want 64", len(fingerprint))
	}
	if len(tlsCfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(tlsCfg.Certificates))
	}

	leaf := tlsCfg.Certificates[0].Leaf
	if leaf == nil {
		t.Fatal("expected parsed leaf certificate")
	}
	if leaf.Subject.CommonName != "dogechat" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "dogechat")
	}
	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		t.Errorf("cert not valid now: NotBefore=%v NotAfter=%v", leaf.NotBefore, leaf.NotAfter)
	}
	if leaf.NotAfter.After(now.Add(validity + time.Minute)) {
		t.Errorf("NotAfter too late: %v", leaf.NotAfter)
	}
}

func TestGenerateTLSConfigHostname(t *testing.T) {
	tlsCfg, _, err := GenerateTLSConfig(time.Hour, "chat.example.com")
	if err != nil {
		t.Fatalf("GenerateTLSConfig: %v", err)
	}
	leaf := tlsCfg.Certificates[0].Leaf
	if err := leaf.VerifyHostname("chat.example.com"); err != nil {
		t.Errorf("hostname SAN missing: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost SAN missing: %v", err)
	}
	if leaf.PublicKeyAlgorithm != x509.ECDSA {
		t.Errorf("expected ECDSA key, got %v", leaf.PublicKeyAlgorithm)
	}
}

func TestGenerateTLSConfigUniqueCerts(t *testing.T) {
	_, fp1, err := GenerateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("GenerateTLSConfig: %v", err)
	}
	_, fp2, err := GenerateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("GenerateTLSConfig: %v", err)
	}
	if fp1 == fp2 {
		t.Error("two calls should produce different certificates")
	}
}

func TestCertTemplateDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tmpl, err := certTemplate(now, 0, "localhost")
	if err != nil {
		t.Fatalf("certTemplate: %v", err)
	}
	if got := tmpl.NotAfter.Sub(now); got != DefaultCertValidity {
		t.Errorf("validity: got %v, want %v", got, DefaultCertValidity)
	}
	if len(tmpl.DNSNames) != 1 || tmpl.DNSNames[0] != "localhost" {
		t.Errorf("localhost should not be listed twice: %#v", tmpl.DNSNames)
	}
}

func TestGenerateTLSConfigFingerprintMatchesLeaf(t *testing.T) {
	tlsCfg, fingerprint, err := GenerateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("GenerateTLSConfig: %v", err)
	}
	sum := sha256.Sum256(tlsCfg.Certificates[0].Leaf.Raw)
	if hex.EncodeToString(sum[:]) != fingerprint {
		t.Errorf("fingerprint does not match the served certificate")
	}
	if tlsCfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion: got %x, want TLS 1.3", tlsCfg.MinVersion)
	}
}
