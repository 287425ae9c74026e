package formatters

import (
	"fmt"

	"immich-sorter/internal/immich"
)

type ImageLocation struct{}

func (ImageLocation) Name() string { return "location" }

func (ImageLocation) Format(ass immich.Asset) string {
	const usa = "United States of America"
	city, state, country := ass.City, ass.Region, ass.Country
	switch {
	case country != usa && country != "" && city != "":
		return fmt.Sprintf("%s, %s", city, country)
	case country != usa && country != "":
		return country
	case country == usa && city != "" && state != "":
		return fmt.Sprintf("%s, %s", city, state)
	case country == usa && city != "":
		return city
	case country == usa && state != "":
		return state
	case city != "":
		return city
	}
	return state
}
