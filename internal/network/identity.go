package network

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// identityLifetime is the validity of a node's identity certificate.
const identityLifetime = 30 * 24 * time.Hour

// ErrIdentityMismatch is returned when a peer presents another key than
// the one pinned for the dial.
var ErrIdentityMismatch = errors.New("peer identity mismatch")

// identityCertificate wraps the node key in a self-signed certificate.
// The certificate only carries the key; no chain or name is checked.
func identityCertificate(key ed25519.PrivateKey) (tls.Certificate, error) {
	pub := key.Public().(ed25519.PublicKey)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("serial:\n%w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hex.EncodeToString(pub)},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(identityLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate:\n%w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate:\n%w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// verifyIdentity checks a peer certificate during the handshake: it must be
// self-signed by an ed25519 key, within its validity window and, when
// pinned is set, carry exactly that key.
func verifyIdentity(pinned ed25519.PublicKey) func([][]byte, [][]*x509.Certificate) error {
	return func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("no peer certificate")
		}

		cert, err := x509.ParseCertificate(raw[0])
		if err != nil {
			return fmt.Errorf("parse peer certificate:\n%w", err)
		}

		key, err := certificateKey(cert)
		if err != nil {
			return err
		}

		if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
			return fmt.Errorf("peer certificate is not self-signed:\n%w", err)
		}

		if now := time.Now(); now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return fmt.Errorf("peer certificate outside its validity window")
		}

		if pinned != nil && !bytes.Equal(key, pinned) {
			return fmt.Errorf("%w: got %x, want %x", ErrIdentityMismatch, key[:8], pinned[:8])
		}

		return nil
	}
}

// pinnedConfig returns base with the peer identity pinned to expected.
func pinnedConfig(base *tls.Config, expected ed25519.PublicKey) *tls.Config {
	if expected == nil {
		return base
	}

	cfg := base.Clone()
	cfg.VerifyPeerCertificate = verifyIdentity(expected)

	return cfg
}

func certificateKey(cert *x509.Certificate) (ed25519.PublicKey, error) {
	key, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate does not carry an ed25519 key")
	}

	return key, nil
}

// peerIdentity returns the key of a connection checked by verifyIdentity.
func peerIdentity(state tls.ConnectionState) (ed25519.PublicKey, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate")
	}

	return certificateKey(state.PeerCertificates[0])
}
