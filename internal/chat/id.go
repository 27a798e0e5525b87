package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID identifies conversations, messages and documents. The backend hands out
// integer keys for stored rows but strings for conversation_id, so an ID
// accepts either form on decode and writes digit-only values back as numbers.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id ID) numeric() bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode id %s: %w", data, err)
		}
		*id = ID(n.String())
		return nil
	}
}

// IDs converts plain strings, dropping blanks.
func IDs(in ...string) []ID {
	out := make([]ID, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, ID(s))
		}
	}
	return out
}

// NewID returns a time-ordered id for locally created messages. UUIDv7 sorts
// by creation time, so ids within a conversation are monotonically
// distinguishable.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return ID(uuid.NewString())
	}
	return ID(id.String())
}
