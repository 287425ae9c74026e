package immich

import (
	"time"

	"github.com/dustin/go-humanize"

	"immich-sorter/internal/immich/api"
)

// Config holds configuration values for the immich client.
//
// It is organized to take advantage of TOML parsing, however this package does
// not handle parsing and has no expectation on how it will be initialized.
type Config struct {
	// In memory cache for downloaded thumbnails and originals, so prefetched
	// content is served without another round trip.
	InMemoryCache InMemoryConfig

	// CameraRefreshInterval controls how long the camera model list is
	// valid. Zero means it is fetched once per session.
	CameraRefreshInterval time.Duration

	// Remote configuration for connecting to the immich API.
	Remote api.Config
}

// In memory cache for asset content fetched from the immich server.
type InMemoryConfig struct {
	UseInMemoryCache  bool
	InMemoryCacheSize HumanBytes
}

// HumanBytes is a custom type to decode human-readable byte values into an
// integer.
type HumanBytes uint64

// UnmarshalText implements toml.TextUnmarshaler.
func (h *HumanBytes) UnmarshalText(text []byte) error {
	nbytes, err := humanize.ParseBytes(string(text))
	*h = HumanBytes(nbytes)
	return err
}

// String converts the integer back into a human-readable representation.
func (h *HumanBytes) String() string {
	if h == nil {
		return ""
	}
	return humanize.Bytes(uint64(*h))
}
