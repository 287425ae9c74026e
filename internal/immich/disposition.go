package immich

import (
	"context"
	"errors"
	"log/slog"

	"immich-sorter/internal/immich/api"
)

// Change is a disposition mutation that can be applied to an asset.
type Change int

const (
	ChangeTrash Change = iota
	ChangeRestore
	ChangeFavorite
	ChangeUnfavorite
	ChangeArchive
	ChangeUnarchive
)

func (c Change) String() string {
	switch c {
	case ChangeTrash:
		return "trash"
	case ChangeRestore:
		return "restore"
	case ChangeFavorite:
		return "favorite"
	case ChangeUnfavorite:
		return "unfavorite"
	case ChangeArchive:
		return "archive"
	case ChangeUnarchive:
		return "unarchive"
	}
	return "unknown"
}

// ApplyDisposition applies change to the asset on the immich server. Failures
// are returned as a *DispositionError.
func (c *Client) ApplyDisposition(ctx context.Context, id AssetID, change Change) error {
	ids := []AssetID{id}
	var err error
	switch change {
	case ChangeTrash:
		err = c.remote.DeleteAssets(ctx, ids)
	case ChangeRestore:
		err = c.remote.RestoreTrashedAssets(ctx, ids)
	case ChangeFavorite, ChangeUnfavorite:
		fav := change == ChangeFavorite
		err = c.remote.UpdateAssets(ctx, api.UpdateAssetsRequest{IDs: ids, IsFavorite: &fav})
	case ChangeArchive, ChangeUnarchive:
		archived := change == ChangeArchive
		err = c.remote.UpdateAssets(ctx, api.UpdateAssetsRequest{IDs: ids, IsArchived: &archived})
	default:
		err = errors.New("unknown change")
	}
	if err != nil {
		return &DispositionError{ID: id, Change: change, Err: notFound(err)}
	}
	slog.Info("applied disposition", "id", id, "change", change.String())
	return nil
}
