package planners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"immich-sorter/internal/immich"
)

// ErrExhausted is returned by [PlanIter.Next] once no assets remain.
var ErrExhausted = errors.New("no more assets")

// PlanIter defines how to page through the assets matching a camera filter.
type PlanIter interface {
	Name() string
	Init(source AssetClient, filter immich.CameraFilter, pageSize int)
	// Next returns the next non-empty page of assets, or ErrExhausted. A
	// failed call can be retried and resumes where it left off.
	Next(ctx context.Context) ([]immich.Asset, error)
}

// AssetClient describes an object that can list pages of assets, either by
// query or at random.
type AssetClient interface {
	ListAssets(ctx context.Context, q immich.AssetQuery) (*immich.Page, error)
	RandomAssets(ctx context.Context, count int) ([]immich.Asset, error)
}

// PlanAlgorithm is a concrete object that embeds a PlanIter interface. This
// struct allows us to take advantage of custom TOML-decoding into a PlanIter
// object based on a name. See [PlanAlgorithm.UnmarshalText].
type PlanAlgorithm struct {
	PlanIter
}

// planAlgorithms is the LUT for all the PlanIter constructors and their names.
var planAlgorithms = map[string]func() PlanIter{
	"sequential": func() PlanIter { return &Sequential{} },
	"random":     func() PlanIter { return &Random{} },
}

// UnmarshalText implements toml.TextUnmarshaler.
func (p *PlanAlgorithm) UnmarshalText(text []byte) error {
	newIter, ok := planAlgorithms[strings.ToLower(string(text))]
	if ok {
		p.PlanIter = newIter()
		return nil
	}
	var validAlgos []string
	for key := range planAlgorithms {
		validAlgos = append(validAlgos, key)
	}
	return fmt.Errorf(
		"unsupported plan algorithm %q, expected one of %v",
		string(text), validAlgos,
	)
}

// MarshalText implements encoding.TextMarshaler.
func (p PlanAlgorithm) MarshalText() ([]byte, error) {
	if p.PlanIter == nil {
		return []byte("sequential"), nil
	}
	return []byte(p.Name()), nil
}

// OrDefault returns the configured PlanIter, or a Sequential one if none was
// configured.
func (p PlanAlgorithm) OrDefault() PlanIter {
	if p.PlanIter == nil {
		return &Sequential{}
	}
	return p.PlanIter
}
