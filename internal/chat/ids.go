package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix starts every client-generated message id.
const ProvisionalPrefix = "temp_"

// IDGenerator creates provisional message ids and idempotency tokens.
type IDGenerator interface {
	// ProvisionalID returns an id of the form temp_<kind>_<unixMillis>_<random>.
	ProvisionalID(kind Kind, now time.Time) string

	// Token returns a unique idempotency token for one durable send.
	Token() string
}

// RandomIDGenerator generates provisional ids with a random suffix and
// time-sortable UUIDv7 tokens.
//
// Thread-safety: RandomIDGenerator is stateless and safe for concurrent use.
type RandomIDGenerator struct{}

// ProvisionalID implements IDGenerator.
func (RandomIDGenerator) ProvisionalID(kind Kind, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return FormatProvisionalID(kind, now, suffix)
}

// Token implements IDGenerator.
//
// Panics if UUID generation fails (should never happen in practice).
func (RandomIDGenerator) Token() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FormatProvisionalID builds a provisional id from its parts.
func FormatProvisionalID(kind Kind, now time.Time, suffix string) string {
	return fmt.Sprintf("%s%s_%d_%s", ProvisionalPrefix, kind, now.UnixMilli(), suffix)
}

// IsProvisionalID reports whether id was generated on the client.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}
