package sync

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// CanonicalUserKey validates a UUID v4 user key and canonicalizes it to
// lowercase. Keys are matched case-insensitively everywhere else.
func CanonicalUserKey(userKey string) (string, error) {
	trimmed := strings.TrimSpace(userKey)
	if trimmed == "" {
		return "", NewError(CodeInvalidUserKey, "userKey is required")
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", NewError(CodeInvalidUserKey, fmt.Sprintf("userKey is not a valid UUID: %s", trimmed))
	}
	return strings.ToLower(parsed.String()), nil
}

// NormalizeFingerprint lowercases a fingerprint and verifies it is exactly
// 64 hex characters.
func NormalizeFingerprint(fp string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(fp))
	if !fingerprintPattern.MatchString(lowered) {
		return "", NewError(CodeInvalidFingerprintFormat, "fingerprint must be 64 lowercase hex characters")
	}
	return lowered, nil
}

// ValidFingerprint reports whether fp is already a canonical fingerprint.
func ValidFingerprint(fp string) bool {
	return fingerprintPattern.MatchString(fp)
}

// NormalizeBatch validates and lowercases a client batch. Within-batch
// duplicates are rejected; callers are expected to dedupe before submission.
func NormalizeBatch(fingerprints []string, maxSize int) ([]string, error) {
	if len(fingerprints) == 0 {
		return nil, NewError(CodeValidationError, "fingerprint batch is empty")
	}
	if maxSize > 0 && len(fingerprints) > maxSize {
		return nil, NewErrorf(CodeRequestTooLarge, "batch of %d exceeds maximum of %d", len(fingerprints), maxSize)
	}

	normalized := make([]string, 0, len(fingerprints))
	seen := make(map[string]struct{}, len(fingerprints))
	for i, fp := range fingerprints {
		canonical, err := NormalizeFingerprint(fp)
		if err != nil {
			return nil, NewErrorf(CodeInvalidFingerprintFormat, "fingerprint at index %d is not 64 hex characters", i)
		}
		if _, dup := seen[canonical]; dup {
			return nil, NewErrorf(CodeValidationError, "duplicate fingerprint in batch at index %d", i)
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized, nil
}

// NormalizeSet validates and lowercases a whole client set, silently
// collapsing duplicates. Used by analyzeDifference where the payload is the
// client's entire collection rather than a curated batch.
func NormalizeSet(fingerprints []string, maxSize int) ([]string, error) {
	if maxSize > 0 && len(fingerprints) > maxSize {
		return nil, NewErrorf(CodeRequestTooLarge, "client set of %d exceeds maximum of %d", len(fingerprints), maxSize)
	}

	normalized := make([]string, 0, len(fingerprints))
	seen := make(map[string]struct{}, len(fingerprints))
	for i, fp := range fingerprints {
		canonical, err := NormalizeFingerprint(fp)
		if err != nil {
			return nil, NewErrorf(CodeInvalidFingerprintFormat, "fingerprint at index %d is not 64 hex characters", i)
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized, nil
}
