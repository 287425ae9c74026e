package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
)

// AssetID is the immich ID for an asset, usually in the shape of UUIDv4.
type AssetID string

// AssetResponse contains relevant asset information retrieved from the immich
// API.
//
// See: https://api.immich.app/models/AssetResponseDto
type AssetResponse struct {
	ID               AssetID   `json:"id"`
	Type             string    `json:"type"`
	OriginalFileName string    `json:"originalFileName"`
	OriginalMimeType string    `json:"originalMimeType"`
	FileCreatedAt    string    `json:"fileCreatedAt"`
	LocalDateTime    string    `json:"localDateTime"`
	Duration         string    `json:"duration"`
	IsFavorite       bool      `json:"isFavorite"`
	IsArchived       bool      `json:"isArchived"`
	IsTrashed        bool      `json:"isTrashed"`
	Visibility       string    `json:"visibility"`
	ExifInfo         *ExifInfo `json:"exifInfo"`
}

// ExifInfo contains relevant EXIF data associated with an asset.
//
// See: https://api.immich.app/models/ExifResponseDto
type ExifInfo struct {
	Make             string   `json:"make"`
	Model            string   `json:"model"`
	LensModel        string   `json:"lensModel"`
	ExifImageWidth   int      `json:"exifImageWidth"`
	ExifImageHeight  int      `json:"exifImageHeight"`
	FileSizeInByte   int64    `json:"fileSizeInByte"`
	DateTimeOriginal string   `json:"dateTimeOriginal"`
	TimeZone         string   `json:"timeZone"`
	ISO              float64  `json:"iso"`
	FNumber          float64  `json:"fNumber"`
	ExposureTime     string   `json:"exposureTime"`
	FocalLength      float64  `json:"focalLength"`
	City             string   `json:"city"`
	State            string   `json:"state"`
	Country          string   `json:"country"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
}

// Size selects which rendition of an asset to download.
type Size string

const (
	SizeThumbnail Size = "thumbnail"
	SizeOriginal  Size = "original"
)

// Content is the binary data of an asset rendition.
type Content struct {
	Data        []byte
	ContentType string
}

// GetAssetInfo gets the metadata associated with an asset.
//
// See: https://api.immich.app/endpoints/assets/getAssetInfo
func (c *Client) GetAssetInfo(ctx context.Context, id AssetID) (*AssetResponse, error) {
	var md AssetResponse
	if err := c.doJSON(ctx, http.MethodGet, path.Join("/assets", string(id)), nil, nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// GetAssetContent downloads the preview thumbnail or the original file.
//
// See: https://api.immich.app/endpoints/assets/viewAsset and
// https://api.immich.app/endpoints/assets/downloadAsset
func (c *Client) GetAssetContent(ctx context.Context, id AssetID, size Size) (*Content, error) {
	var (
		p     string
		query url.Values
	)
	switch size {
	case SizeThumbnail:
		p = path.Join("/assets", string(id), "thumbnail")
		query = url.Values{"size": {"preview"}}
	case SizeOriginal:
		p = path.Join("/assets", string(id), "original")
	default:
		return nil, fmt.Errorf("unsupported asset size %q", size)
	}
	resp, err := c.do(ctx, http.MethodGet, p, query, nil)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	return &Content{
		Data:        resp.Body,
		ContentType: contentType,
	}, nil
}

// RandomAssets draws count random assets.
//
// See: https://api.immich.app/endpoints/assets/getRandom
func (c *Client) RandomAssets(ctx context.Context, count int) ([]AssetResponse, error) {
	query := url.Values{"count": {strconv.Itoa(count)}}
	var assets []AssetResponse
	if err := c.doJSON(ctx, http.MethodGet, "/assets/random", query, nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// UpdateAssetsRequest is the body of PUT /assets. Nil fields are left
// unchanged.
type UpdateAssetsRequest struct {
	IDs        []AssetID `json:"ids"`
	IsFavorite *bool     `json:"isFavorite,omitempty"`
	IsArchived *bool     `json:"isArchived,omitempty"`
}

// UpdateAssets changes favorite or archive flags.
//
// See: https://api.immich.app/endpoints/assets/updateAssets
func (c *Client) UpdateAssets(ctx context.Context, req UpdateAssetsRequest) error {
	return c.doJSON(ctx, http.MethodPut, "/assets", nil, req, nil)
}

// DeleteAssets moves the assets to the trash.
//
// See: https://api.immich.app/endpoints/assets/deleteAssets
func (c *Client) DeleteAssets(ctx context.Context, ids []AssetID) error {
	body := struct {
		IDs   []AssetID `json:"ids"`
		Force bool      `json:"force"`
	}{IDs: ids}
	return c.doJSON(ctx, http.MethodDelete, "/assets", nil, body, nil)
}

// RestoreTrashedAssets moves the assets out of the trash.
//
// See: https://api.immich.app/endpoints/trash/restoreAssets
func (c *Client) RestoreTrashedAssets(ctx context.Context, ids []AssetID) error {
	body := struct {
		IDs []AssetID `json:"ids"`
	}{IDs: ids}
	return c.doJSON(ctx, http.MethodPost, "/trash/restore/assets", nil, body, nil)
}
