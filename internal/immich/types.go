package immich

import "immich-sorter/internal/immich/api"

// Redeclare the immich API types.
type AssetID = api.AssetID
type Size = api.Size
type Content = api.Content

const (
	SizeThumbnail = api.SizeThumbnail
	SizeOriginal  = api.SizeOriginal
)
