package controller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"immich-sorter/internal/app/queue"
	"immich-sorter/internal/immich"
)

// ActionKind is a triage decision made by the user.
type ActionKind string

const (
	Delete   ActionKind = "delete"
	Keep     ActionKind = "keep"
	Favorite ActionKind = "favorite"
	Archive  ActionKind = "archive"
)

// ParseActionKind converts user input into an ActionKind. "fav" is accepted
// for Favorite.
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case Delete, Keep, Favorite, Archive:
		return k, nil
	case "fav":
		return Favorite, nil
	}
	return "", fmt.Errorf("unknown action %q, expected one of delete, keep, favorite, archive", s)
}

// change returns the disposition change applied by the action. Keep has no
// remote effect.
func (k ActionKind) change() (immich.Change, bool) {
	switch k {
	case Delete:
		return immich.ChangeTrash, true
	case Favorite:
		return immich.ChangeFavorite, true
	case Archive:
		return immich.ChangeArchive, true
	}
	return 0, false
}

// removes reports whether the asset leaves the queue after the action.
func (k ActionKind) removes() bool {
	return k == Delete || k == Archive
}

// apply returns the disposition flags after the action succeeds.
func (k ActionKind) apply(s immich.State) immich.State {
	switch k {
	case Delete:
		s.Trashed = true
	case Favorite:
		s.Favorite = true
	case Archive:
		s.Archived = true
	}
	return s
}

var (
	// ErrNoActionToUndo is returned by Undo when there is nothing to undo.
	ErrNoActionToUndo = errors.New("no action to undo")
	// ErrStopped is returned for commands submitted after Run returned.
	ErrStopped = errors.New("controller stopped")
)

// UndoError is returned when reversing an action failed remotely. The action
// stays recorded so the undo can be retried.
type UndoError struct {
	Record ActionRecord
	Err    error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo %s of asset %s: %v", e.Record.Kind, e.Record.AssetID, e.Err)
}

func (e *UndoError) Unwrap() error { return e.Err }

// ActionRecord remembers the most recent action so it can be undone.
type ActionRecord struct {
	ID      uuid.UUID      `json:"id"`
	AssetID immich.AssetID `json:"asset_id"`
	Kind    ActionKind     `json:"kind"`
	// Prior holds the disposition flags before the action.
	Prior    immich.State `json:"prior"`
	Position int          `json:"position"`
	// Removed is set when the entry left the queue. Entry is put back at
	// Position on undo.
	Removed bool        `json:"removed"`
	Entry   queue.Entry `json:"-"`
	At      time.Time   `json:"at"`

	// advanced is set when a keep or favorite moved the queue forward, so
	// undo can step back with Retreat.
	advanced bool
}

// inverse returns the change that restores the prior disposition, if any.
func (r ActionRecord) inverse() (immich.Change, bool) {
	switch r.Kind {
	case Delete:
		if !r.Prior.Trashed {
			return immich.ChangeRestore, true
		}
	case Favorite:
		if !r.Prior.Favorite {
			return immich.ChangeUnfavorite, true
		}
	case Archive:
		if !r.Prior.Archived {
			return immich.ChangeUnarchive, true
		}
	}
	return 0, false
}
