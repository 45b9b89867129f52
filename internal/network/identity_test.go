package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

// TestIdentityCertificatePinning tests the handshake check against a pinned key.
func TestIdentityCertificatePinning(t *testing.T) {
	key := generateTestKey(t)
	cert, err := identityCertificate(key)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}

	pub := key.Public().(ed25519.PublicKey)
	if !cert.Leaf.PublicKey.(ed25519.PublicKey).Equal(pub) {
		t.Fatal("certificate should carry the node key")
	}

	if err := verifyIdentity(nil)(cert.Certificate, nil); err != nil {
		t.Errorf("unpinned: %v", err)
	}

	if err := verifyIdentity(pub)(cert.Certificate, nil); err != nil {
		t.Errorf("pinned to own key: %v", err)
	}

	other := generateTestKey(t).Public().(ed25519.PublicKey)
	if err := verifyIdentity(other)(cert.Certificate, nil); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}
}

// TestTamperedCertificateRefused tests that a broken self-signature is refused.
func TestTamperedCertificateRefused(t *testing.T) {
	cert, err := identityCertificate(generateTestKey(t))
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}

	der := append([]byte(nil), cert.Certificate[0]...)
	der[len(der)-1] ^= 0xff

	if err := verifyIdentity(nil)([][]byte{der}, nil); err == nil {
		t.Fatal("expected tampered certificate to be refused")
	}

	if err := verifyIdentity(nil)(nil, nil); err == nil {
		t.Fatal("expected missing certificate to be refused")
	}
}

// TestForeignSignedCertificateRefused tests that a key certified by another
// key is not accepted as its own identity.
func TestForeignSignedCertificateRefused(t *testing.T) {
	signer := generateTestKey(t)
	subject := generateTestKey(t).Public().(ed25519.PublicKey)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "impostor"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, subject, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	if err := verifyIdentity(subject)([][]byte{der}, nil); err == nil {
		t.Fatal("expected foreign-signed certificate to be refused")
	}
}
