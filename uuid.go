package systx

import (
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID, keeping this
// module's public surface decoupled from the underlying package.
type UUID uuid.UUID

// NilUUID is the zero-value UUID.
var NilUUID UUID

// String renders the canonical hyphenated form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// IsNil reports whether u is the zero UUID.
func (u UUID) IsNil() bool {
	return u == NilUUID
}

// ParseUUID parses the canonical string form.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	return UUID(u), err
}

// NewUUID generates a new random UUID, retrying briefly on the rare
// entropy-exhaustion error rather than surfacing it to the caller: a
// transaction ID is required for the engine to function at all, so
// there is nothing more useful a caller could do with the error.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}
