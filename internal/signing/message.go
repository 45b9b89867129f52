package signing

import (
	"github.com/zeebo/blake3"

	"GuardianScope/internal/moderation"
)

// registerTag prefixes the registration proof digest.
const registerTag = "guardianscope-register"

// CanonicalMessage is the digest every operator signs for a judgment:
// BLAKE3(content || 0x01) to approve, BLAKE3(content || 0x00) to reject.
func CanonicalMessage(content []byte, approve bool) []byte {
	h := blake3.New()
	h.Write(content)

	if approve {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	return h.Sum(nil)
}

// RegistrationDigest is the message signed to prove possession of a BLS key.
func RegistrationDigest(op moderation.OperatorID, publicKey []byte) []byte {
	h := blake3.New()
	h.Write([]byte(registerTag))
	h.Write(op[:])
	h.Write(publicKey)

	return h.Sum(nil)
}

// VerifyRegistration checks a registration proof.
func VerifyRegistration(op moderation.OperatorID, publicKey, proof []byte) bool {
	return Verify(proof, RegistrationDigest(op, publicKey), publicKey)
}

// VerifyAttestation checks an attestation signature for the given content.
func VerifyAttestation(att moderation.Attestation, content, publicKey []byte) bool {
	return Verify(att.Signature, CanonicalMessage(content, att.Approve), publicKey)
}

// VerifyCertificate checks a task certificate against the signers' registered keys.
func VerifyCertificate(content []byte, cert *moderation.Certificate, keyOf func(moderation.OperatorID) []byte) bool {
	if cert == nil || len(cert.Signers) == 0 {
		return false
	}

	keys := make([][]byte, 0, len(cert.Signers))
	for _, op := range cert.Signers {
		pk := keyOf(op)
		if pk == nil {
			return false
		}
		keys = append(keys, pk)
	}

	return VerifyAggregated(cert.Signature, CanonicalMessage(content, cert.Decision == moderation.Approved), keys)
}
