// Package state provides implementations of the client persistence port.
package state

import (
	"fmt"
	"path/filepath"

	"github.com/user/chatctl/internal/types"
)

// Compile-time interface compliance checks.
var _ types.Persistence = (*FileStore)(nil)
var _ types.Persistence = (*SQLiteStore)(nil)
var _ types.Persistence = (*MemoryStore)(nil)

// Store is a persistence adapter that holds resources until closed.
type Store interface {
	types.Persistence
	Close() error
}

// Open returns the store selected by driver, rooted at dir.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dir), nil
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "state.db"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}
