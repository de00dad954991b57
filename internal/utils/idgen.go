// internal/utils/idgen.go
package utils

import (
	"strings"

	"github.com/google/uuid"
)

// Entity ID prefixes. Every entity created by the application carries one of
// these so an opaque ID is still recognizable in logs and storage keys.
const (
	PrefixProject   = "proj"
	PrefixSection   = "sec"
	PrefixCharacter = "char"
	PrefixNote      = "note"
	PrefixTaskList  = "list"
	PrefixTask      = "task"
)

// NewID returns a globally unique opaque ID with the given entity prefix.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewProjectID returns a new project ID.
func NewProjectID() string { return NewID(PrefixProject) }

// NewSectionID returns a new outline section ID.
func NewSectionID() string { return NewID(PrefixSection) }

// NewCharacterID returns a new character ID.
func NewCharacterID() string { return NewID(PrefixCharacter) }

// NewNoteID returns a new note ID.
func NewNoteID() string { return NewID(PrefixNote) }

// NewTaskListID returns a new task list ID.
func NewTaskListID() string { return NewID(PrefixTaskList) }

// NewTaskID returns a new task ID.
func NewTaskID() string { return NewID(PrefixTask) }
