package formatters

import (
	"fmt"
	"strings"

	"immich-sorter/internal/immich"
)

// Missing is shown for metadata the asset does not have.
const Missing = "--"

type TextFormatter interface {
	Name() string
	// Format returns the text to show for the asset, or "" if the asset has
	// no such metadata.
	Format(immich.Asset) string
}

type FormatConfig struct {
	TextFormatter
}

var (
	// formatters is the list of available text formatters, in display order.
	formatters = []TextFormatter{
		new(ImageDateTime),
		new(Date),
		new(Time),
		new(FileSize),
		new(Dimensions),
		new(Camera),
		new(Lens),
		new(ISO),
		new(Aperture),
		new(Shutter),
		new(Focal),
		new(ImageLocation),
		new(Duration),
	}

	// formattersByName is a LUT of name to TextFormatter, built via [init].
	formattersByName = map[string]TextFormatter{}
)

// UnmarshalText implements toml.TextUnmarshaler.
func (f *FormatConfig) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	if fc, ok := formattersByName[name]; ok {
		f.TextFormatter = fc
		return nil
	}
	// Unrecognized formatter.
	var validFormatters []string
	for key := range formattersByName {
		validFormatters = append(validFormatters, fmt.Sprintf("%q", key))
	}
	return fmt.Errorf(
		"unsupported text formatter %q, expected one of %v",
		string(text), validFormatters,
	)
}

// MarshalText implements encoding.TextMarshaler.
func (f FormatConfig) MarshalText() ([]byte, error) {
	return []byte(f.Name()), nil
}

// Defaults returns every formatter except the relative date-time, which
// duplicates date and time.
func Defaults() []FormatConfig {
	var configs []FormatConfig
	for _, fc := range formatters {
		if fc.Name() == (ImageDateTime{}).Name() {
			continue
		}
		configs = append(configs, FormatConfig{fc})
	}
	return configs
}

// Field is one formatted piece of metadata.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata formats the asset with each of the configured formatters. Missing
// values are shown as [Missing].
func Metadata(ass immich.Asset, configs []FormatConfig) []Field {
	fields := make([]Field, 0, len(configs))
	for _, fc := range configs {
		value := fc.Format(ass)
		if value == "" {
			value = Missing
		}
		fields = append(fields, Field{Name: fc.Name(), Value: value})
	}
	return fields
}

func init() {
	for _, fc := range formatters {
		formattersByName[fc.Name()] = fc
	}
}
