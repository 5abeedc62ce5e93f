package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainProgram  = "mfexec/program/v1"
	DomainSnapshot = "mfexec/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash hashes the canonical form of a decoded program document.
// Two documents that differ only in formatting or key order hash equal.
func ProgramHash(doc Value) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("ProgramHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// SnapshotHash hashes an already-canonical snapshot body.
func SnapshotHash(canonical []byte) string {
	return hashWithDomain(DomainSnapshot, canonical)
}
