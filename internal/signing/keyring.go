package signing

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"

	"GuardianScope/internal/moderation"
)

// KeyHolder is the signing capability scoped to one operator identity.
type KeyHolder interface {
	// Operator returns the identity this holder signs for.
	Operator() moderation.OperatorID

	// PublicKey returns the BLS verification key.
	PublicKey() []byte

	// Sign signs message. A failure fails only the current attempt.
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// LocalKeyHolder keeps a BLS key in process memory.
type LocalKeyHolder struct {
	mu       sync.Mutex
	operator moderation.OperatorID // operator is the identity derived from the ed25519 key
	key      *KeyPair              // key is the derived BLS key
}

// NewLocalKeyHolder derives the holder for an ed25519 identity key.
func NewLocalKeyHolder(identity ed25519.PrivateKey) (*LocalKeyHolder, error) {
	key, err := DeriveFromED25519(identity)
	if err != nil {
		return nil, fmt.Errorf("derive bls key:\n%w", err)
	}

	var op moderation.OperatorID
	copy(op[:], identity.Public().(ed25519.PublicKey))

	return &LocalKeyHolder{operator: op, key: key}, nil
}

// Operator returns the holder's identity.
func (h *LocalKeyHolder) Operator() moderation.OperatorID {
	return h.operator
}

// PublicKey returns the BLS verification key.
func (h *LocalKeyHolder) PublicKey() []byte {
	return h.key.PublicKey()
}

// Sign signs message unless ctx is already done.
func (h *LocalKeyHolder) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.key.Sign(message), nil
}

// RegistrationProof signs the registration digest for this holder's key.
func (h *LocalKeyHolder) RegistrationProof() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.key.Sign(RegistrationDigest(h.operator, h.key.PublicKey()))
}

// Keyring maps the locally operated identities to their key holders.
type Keyring struct {
	mu      sync.RWMutex
	holders map[moderation.OperatorID]KeyHolder
}

// NewKeyring creates a keyring from holders.
func NewKeyring(holders ...KeyHolder) *Keyring {
	k := &Keyring{holders: make(map[moderation.OperatorID]KeyHolder, len(holders))}

	for _, h := range holders {
		k.holders[h.Operator()] = h
	}

	return k
}

// Add registers a holder, replacing any previous one for the same identity.
func (k *Keyring) Add(h KeyHolder) {
	k.mu.Lock()
	k.holders[h.Operator()] = h
	k.mu.Unlock()
}

// Holder returns the holder for op.
func (k *Keyring) Holder(op moderation.OperatorID) (KeyHolder, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	h, ok := k.holders[op]
	return h, ok
}

// Operators returns the local identities in a stable order.
func (k *Keyring) Operators() []moderation.OperatorID {
	k.mu.RLock()
	ops := make([]moderation.OperatorID, 0, len(k.holders))
	for op := range k.holders {
		ops = append(ops, op)
	}
	k.mu.RUnlock()

	sort.Slice(ops, func(i, j int) bool {
		return string(ops[i][:]) < string(ops[j][:])
	})

	return ops
}

// IsLocal reports whether op is operated by this process.
func (k *Keyring) IsLocal(op moderation.OperatorID) bool {
	_, ok := k.Holder(op)
	return ok
}
