package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot     = "xsm/snapshot/v1"
	DomainNotification = "xsm/notification/v1"
	DomainModel        = "xsm/model/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes the canonical JSON form of v under domain.
// Returns error if v cannot be canonically marshaled.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// NotificationID computes the content-addressed id of a published change:
// the run it belongs to, its position in the run, and the event it carries.
func NotificationID(runID string, seq int64, variant string, curr IRValue) (string, error) {
	obj := IRObject{
		"run_id":  IRString(runID),
		"seq":     IRInt(seq),
		"variant": IRString(variant),
		"curr":    curr,
	}
	if curr == nil {
		obj["curr"] = IRNull{}
	}
	return Digest(DomainNotification, obj)
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(domain string, v any) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
