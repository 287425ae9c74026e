package formatters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"immich-sorter/internal/immich"
)

type FileSize struct{}

func (FileSize) Name() string { return "size" }

func (FileSize) Format(ass immich.Asset) string {
	if ass.FileSize <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(ass.FileSize))
}

type Dimensions struct{}

func (Dimensions) Name() string { return "dims" }

func (Dimensions) Format(ass immich.Asset) string {
	if ass.Width == 0 || ass.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", ass.Width, ass.Height)
}

type Camera struct{}

func (Camera) Name() string { return "camera" }

func (Camera) Format(ass immich.Asset) string { return ass.Model }

type Lens struct{}

func (Lens) Name() string { return "lens" }

func (Lens) Format(ass immich.Asset) string { return ass.Lens }

type ISO struct{}

func (ISO) Name() string { return "iso" }

func (ISO) Format(ass immich.Asset) string {
	if ass.ISO == 0 {
		return ""
	}
	return strconv.Itoa(ass.ISO)
}

type Aperture struct{}

func (Aperture) Name() string { return "aperture" }

func (Aperture) Format(ass immich.Asset) string {
	if ass.FNumber == 0 {
		return ""
	}
	return "f/" + humanize.Ftoa(ass.FNumber)
}

type Shutter struct{}

func (Shutter) Name() string { return "shutter" }

func (Shutter) Format(ass immich.Asset) string {
	if ass.Exposure == "" {
		return ""
	}
	return ass.Exposure + "s"
}

type Focal struct{}

func (Focal) Name() string { return "focal" }

func (Focal) Format(ass immich.Asset) string {
	if ass.Focal == 0 {
		return ""
	}
	return humanize.Ftoa(ass.Focal) + "mm"
}

// Duration shortens the immich "H:MM:SS.ffffff" video duration to "M:SS", or
// "H:MM:SS" for videos longer than an hour.
type Duration struct{}

func (Duration) Name() string { return "duration" }

func (Duration) Format(ass immich.Asset) string {
	if !ass.IsVideo() || ass.Duration == "" {
		return ""
	}
	parts := strings.Split(ass.Duration, ":")
	if len(parts) != 3 {
		return ass.Duration
	}
	hours, err1 := strconv.Atoi(parts[0])
	mins, err2 := strconv.Atoi(parts[1])
	secs, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return ass.Duration
	}
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, mins, int(secs))
	}
	return fmt.Sprintf("%d:%02d", mins, int(secs))
}
