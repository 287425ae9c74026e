package immich

import (
	"slices"
	"strings"
	"time"

	"immich-sorter/internal/immich/api"
)

// AssetType is either an image or a video.
type AssetType string

const (
	AssetImage AssetType = "IMAGE"
	AssetVideo AssetType = "VIDEO"
)

// Disposition is the triage state of an asset on the immich server.
type Disposition string

const (
	Active    Disposition = "active"
	Favorited Disposition = "favorited"
	Archived  Disposition = "archived"
	Deleted   Disposition = "deleted"
)

// State holds the disposition flags as immich stores them. They are
// independent on the server; [State.Disposition] folds them into one value.
type State struct {
	Favorite bool `json:"favorite"`
	Archived bool `json:"archived"`
	Trashed  bool `json:"trashed"`
}

// Disposition returns the most significant flag: deleted, then archived, then
// favorited.
func (s State) Disposition() Disposition {
	switch {
	case s.Trashed:
		return Deleted
	case s.Archived:
		return Archived
	case s.Favorite:
		return Favorited
	}
	return Active
}

// Asset is the client-side, possibly stale, copy of an immich asset.
type Asset struct {
	ID         AssetID
	Type       AssetType
	Name       string
	CapturedAt time.Time
	// FileCreatedAt is the key immich orders search results by.
	FileCreatedAt time.Time
	TimeZone   string
	Duration   string
	FileSize   int64
	Width      int
	Height     int
	Make       string
	Model      string
	Lens       string
	ISO        int
	FNumber    float64
	Exposure   string
	Focal      float64
	City       string
	Region     string
	Country    string
	Latitude   *float64
	Longitude  *float64
	State      State
}

// Disposition is shorthand for a.State.Disposition().
func (a Asset) Disposition() Disposition { return a.State.Disposition() }

// IsVideo reports whether the asset is a video.
func (a Asset) IsVideo() bool { return a.Type == AssetVideo }

// assetFromResponse converts the immich API representation.
func assetFromResponse(r api.AssetResponse) Asset {
	a := Asset{
		ID:       r.ID,
		Type:     AssetType(strings.ToUpper(r.Type)),
		Name:     r.OriginalFileName,
		Duration: r.Duration,
		State: State{
			Favorite: r.IsFavorite,
			Archived: r.IsArchived || r.Visibility == "archive",
			Trashed:  r.IsTrashed,
		},
	}
	if a.Type == "" {
		a.Type = AssetImage
	}
	a.FileCreatedAt = parseTime(r.FileCreatedAt)
	a.CapturedAt = parseTime(r.LocalDateTime, r.FileCreatedAt)
	if exif := r.ExifInfo; exif != nil {
		if t := parseTime(exif.DateTimeOriginal); !t.IsZero() {
			a.CapturedAt = t
		}
		a.TimeZone = exif.TimeZone
		a.FileSize = exif.FileSizeInByte
		a.Width = exif.ExifImageWidth
		a.Height = exif.ExifImageHeight
		a.Make = exif.Make
		a.Model = exif.Model
		a.Lens = exif.LensModel
		a.ISO = int(exif.ISO)
		a.FNumber = exif.FNumber
		a.Exposure = exif.ExposureTime
		a.Focal = exif.FocalLength
		a.City = exif.City
		a.Region = exif.State
		a.Country = exif.Country
		a.Latitude = exif.Latitude
		a.Longitude = exif.Longitude
	}
	return a
}

// parseTime returns the first of values that parses as an immich timestamp.
func parseTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02T15:04:05.999Z07:00", v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CameraFilter is the set of camera models an asset must match. The zero value
// matches everything.
type CameraFilter struct {
	models []string
}

// NewCameraFilter builds a filter from the selected models. Blank and duplicate
// entries are dropped.
func NewCameraFilter(models ...string) CameraFilter {
	var f CameraFilter
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || slices.Contains(f.models, m) {
			continue
		}
		f.models = append(f.models, m)
	}
	slices.Sort(f.models)
	return f
}

// Models returns the selected models in sorted order.
func (f CameraFilter) Models() []string { return slices.Clone(f.models) }

// IsEmpty reports whether no model is selected.
func (f CameraFilter) IsEmpty() bool { return len(f.models) == 0 }

// Matches reports whether an asset with the given camera model passes.
func (f CameraFilter) Matches(model string) bool {
	return f.IsEmpty() || slices.Contains(f.models, model)
}

// Equal reports whether both filters select the same models.
func (f CameraFilter) Equal(o CameraFilter) bool { return slices.Equal(f.models, o.models) }
