package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SearchMetadataRequest is the body for POST /search/metadata.
//
// See: https://api.immich.app/endpoints/search/searchAssets
type SearchMetadataRequest struct {
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	WithExif   bool   `json:"withExif,omitempty"`
	Model      string `json:"model,omitempty"`
	Order      string `json:"order,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	// TakenBefore is an RFC 3339 timestamp. Immich compares it inclusively
	// against fileCreatedAt.
	TakenBefore string `json:"takenBefore,omitempty"`
}

// SearchMetadataResponse wraps the paginated response from the search
// endpoint.
type SearchMetadataResponse struct {
	Assets struct {
		Total    int             `json:"total"`
		Count    int             `json:"count"`
		Items    []AssetResponse `json:"items"`
		NextPage *string         `json:"nextPage"`
	} `json:"assets"`
}

// Next returns the next page number, or 0 if this was the last page.
func (r SearchMetadataResponse) Next() int {
	if r.Assets.NextPage == nil {
		return 0
	}
	n, err := strconv.Atoi(*r.Assets.NextPage)
	if err != nil {
		return 0
	}
	return n
}

// SearchMetadata lists assets matching req.
func (c *Client) SearchMetadata(ctx context.Context, req SearchMetadataRequest) (*SearchMetadataResponse, error) {
	var resp SearchMetadataResponse
	if err := c.doJSON(ctx, http.MethodPost, "/search/metadata", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SuggestionType is the kind of search suggestion to list.
type SuggestionType string

const (
	SuggestionCameraMake  SuggestionType = "camera-make"
	SuggestionCameraModel SuggestionType = "camera-model"
)

// SearchSuggestions lists the distinct values immich knows for typ.
//
// See: https://api.immich.app/endpoints/search/getSearchSuggestions
func (c *Client) SearchSuggestions(ctx context.Context, typ SuggestionType) ([]string, error) {
	query := url.Values{"type": {string(typ)}}
	var values []string
	if err := c.doJSON(ctx, http.MethodGet, "/search/suggestions", query, nil, &values); err != nil {
		return nil, err
	}
	return values, nil
}
