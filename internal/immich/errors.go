package immich

import (
	"errors"
	"fmt"

	"immich-sorter/internal/immich/api"
)

// ErrNotFound is returned when the asset no longer exists on the server,
// usually because it was deleted after the queue was listed.
var ErrNotFound = errors.New("asset not found")

// FetchError is returned when asset content could not be downloaded after
// exhausting retries.
type FetchError struct {
	ID   AssetID
	Size Size
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s of asset %s: %v", e.Size, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DispositionError is returned when the server rejected, or could not be
// reached for, a disposition change.
type DispositionError struct {
	ID     AssetID
	Change Change
	Err    error
}

func (e *DispositionError) Error() string {
	return fmt.Sprintf("%s asset %s: %v", e.Change, e.ID, e.Err)
}

func (e *DispositionError) Unwrap() error { return e.Err }

// notFound maps immich "not found" responses to ErrNotFound.
func notFound(err error) error {
	var serr *api.StatusError
	if errors.As(err, &serr) && serr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
