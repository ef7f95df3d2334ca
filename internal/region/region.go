// Package region loads the static gazetteer and regional volunteer pools
// used when external geocoding or volunteer backends are unavailable.
package region

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/haven/internal/geo"
)

//go:embed regions.yaml
var defaultRegions []byte

// Region is a named place with optional coordinates and volunteer capacity.
type Region struct {
	Name       string   `yaml:"name"`
	Lat        *float64 `yaml:"lat"`
	Lon        *float64 `yaml:"lon"`
	Volunteers int      `yaml:"volunteers"`
}

type file struct {
	Regions []Region `yaml:"regions"`
}

// Catalog is an immutable name-indexed set of regions. Lookups are exact
// string matches on the region name.
type Catalog struct {
	byName map[string]Region
	order  []string
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(defaultRegions)
	if err != nil {
		panic(fmt.Sprintf("embedded regions.yaml: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path is operator config
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML catalog document.
func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}

	c := &Catalog{byName: make(map[string]Region, len(f.Regions))}
	var errs []error
	for i, r := range f.Regions {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("region %d: name is required", i))
			continue
		}
		if (r.Lat == nil) != (r.Lon == nil) {
			errs = append(errs, fmt.Errorf("region %q: lat and lon must be set together", r.Name))
			continue
		}
		if r.Lat != nil && !(geo.Point{Lat: *r.Lat, Lon: *r.Lon}).Valid() {
			errs = append(errs, fmt.Errorf("region %q: coordinates out of range", r.Name))
			continue
		}
		if r.Volunteers < 0 {
			errs = append(errs, fmt.Errorf("region %q: volunteers must be >= 0", r.Name))
			continue
		}
		if _, dup := c.byName[r.Name]; dup {
			errs = append(errs, fmt.Errorf("region %q: duplicate name", r.Name))
			continue
		}
		c.byName[r.Name] = r
		c.order = append(c.order, r.Name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Lookup returns the gazetteer coordinates for a location name.
func (c *Catalog) Lookup(name string) (geo.Point, bool) {
	r, ok := c.byName[name]
	if !ok || r.Lat == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *r.Lat, Lon: *r.Lon}, true
}

// Capacity returns the volunteer pool size for a location, 0 if unknown.
func (c *Catalog) Capacity(name string) int {
	return c.byName[name].Volunteers
}

// Cities returns the names of all regions that carry coordinates, in file order.
func (c *Catalog) Cities() []string {
	out := make([]string, 0, len(c.order))
	for _, name := range c.order {
		if c.byName[name].Lat != nil {
			out = append(out, name)
		}
	}
	return out
}

// Geocode implements the geocoder contract from the static table, for
// deployments without a maps API key.
func (c *Catalog) Geocode(_ context.Context, name string) (geo.Point, bool, error) {
	p, ok := c.Lookup(name)
	return p, ok, nil
}
