package sync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalUserKey(t *testing.T) {
	canonical, err := CanonicalUserKey("550E8400-E29B-41D4-A716-446655440000")
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", canonical)

	_, err = CanonicalUserKey("not-a-uuid")
	require.Error(t, err)
	typed, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidUserKey, typed.Code)

	_, err = CanonicalUserKey("  ")
	require.Error(t, err)
}

func TestNormalizeFingerprint(t *testing.T) {
	upper := strings.Repeat("AB", 32)
	normalized, err := NormalizeFingerprint(upper)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(upper), normalized)

	for _, bad := range []string{
		"",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("g", 64),
	} {
		_, err := NormalizeFingerprint(bad)
		require.Error(t, err, "input %q should be rejected", bad)
		typed, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInvalidFingerprintFormat, typed.Code)
	}
}

func TestNormalizeBatchRejectsDuplicates(t *testing.T) {
	fp := strings.Repeat("a", 64)
	_, err := NormalizeBatch([]string{fp, strings.ToUpper(fp)}, 1000)
	require.Error(t, err)
	typed, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidationError, typed.Code)
}

func TestNormalizeBatchSizeLimit(t *testing.T) {
	batch := []string{strings.Repeat("a", 64), strings.Repeat("b", 64)}
	_, err := NormalizeBatch(batch, 1)
	require.Error(t, err)
	typed, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeRequestTooLarge, typed.Code)

	_, err = NormalizeBatch(nil, 1000)
	require.Error(t, err)
}

func TestNormalizeSetCollapsesDuplicates(t *testing.T) {
	fp := strings.Repeat("c", 64)
	set, err := NormalizeSet([]string{fp, strings.ToUpper(fp), strings.Repeat("d", 64)}, 1000)
	require.NoError(t, err)
	assert.Len(t, set, 2)

	// Empty sets are allowed; analyze treats them as "pull everything".
	set, err = NormalizeSet(nil, 1000)
	require.NoError(t, err)
	assert.Empty(t, set)
}
