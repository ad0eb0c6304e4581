// Package chain computes the deterministic digests linking a subject's
// events into a hash chain.
package chain

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/evidentry/evidentry/pkg/canonicalize"
)

// Algorithm is a pluggable digest over the canonical event tuple.
type Algorithm interface {
	Name() string
	// Sum returns the lowercase hex digest of data.
	Sum(data []byte) string
}

type sha256Algorithm struct{}

func (sha256Algorithm) Name() string { return "sha256" }
func (sha256Algorithm) Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type sha512Algorithm struct{}

func (sha512Algorithm) Name() string { return "sha512" }
func (sha512Algorithm) Sum(data []byte) string {
	h := sha512.Sum512(data)
	return hex.EncodeToString(h[:])
}

type sha3Algorithm struct{}

func (sha3Algorithm) Name() string { return "sha3-256" }
func (sha3Algorithm) Sum(data []byte) string {
	h := sha3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// AlgorithmByName resolves a configured algorithm name. Unknown names are a
// startup error, never a silent fallback.
func AlgorithmByName(name string) (Algorithm, error) {
	switch name {
	case "", "sha256":
		return sha256Algorithm{}, nil
	case "sha512":
		return sha512Algorithm{}, nil
	case "sha3-256":
		return sha3Algorithm{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// Hasher is the single source of truth for event hash computation.
type Hasher struct {
	alg Algorithm
}

// NewHasher creates a Hasher. A nil algorithm defaults to SHA-256.
func NewHasher(alg Algorithm) *Hasher {
	if alg == nil {
		alg = sha256Algorithm{}
	}
	return &Hasher{alg: alg}
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Compute returns the chain digest for one event. previousHash is nil for
// the genesis event. The digest covers the JCS canonical form of the full
// event tuple, so any field mutation changes the hash.
func (h *Hasher) Compute(
	subjectID string,
	eventType string,
	schemaVersion int,
	eventTime time.Time,
	payload map[string]any,
	previousHash *string,
) (string, error) {
	content := map[string]any{
		"subject_id":     subjectID,
		"event_type":     eventType,
		"schema_version": schemaVersion,
		"event_time":     eventTime.UTC().Format(time.RFC3339Nano),
		"payload":        payload,
		"previous_hash":  previousHash,
	}
	canonical, err := canonicalize.JCS(content)
	if err != nil {
		return "", fmt.Errorf("compute event hash: %w", err)
	}
	return h.alg.Sum(canonical), nil
}
