// internal/types/ids.go
package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type ConversationID string
type MessageID string
type ProviderID string
type ModelID string

// localPrefix marks message ids minted on the client before the server has
// acknowledged the message. Server ids are integers and never carry it.
const localPrefix = "local-"

func NewLocalMessageID() MessageID {
	return MessageID(localPrefix + uuid.New().String())
}

// IsLocal reports whether the id was generated on the client.
func (id MessageID) IsLocal() bool {
	return strings.HasPrefix(string(id), localPrefix)
}

// ServerID renders a numeric server identifier in its opaque client form.
func ServerID(n int64) string {
	return strconv.FormatInt(n, 10)
}

// ParseServerID converts an opaque id back into the numeric form the backend
// expects in paths and query strings.
func ParseServerID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
