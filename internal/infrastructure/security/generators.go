// Package security provides identifier generation and admin authentication.
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// GenerateSessionID produces a diff-session identifier of the form
// diff_<unix-millis>_<ulid>, lowercased to satisfy the session-ID contract.
func GenerateSessionID() string {
	return fmt.Sprintf("diff_%d_%s", time.Now().UnixMilli(), strings.ToLower(ulid.Make().String()))
}

// GenerateLockID produces an opaque sync-lock identifier.
func GenerateLockID() string {
	return strings.ToLower(ulid.Make().String())
}
