package geo

import (
	"context"
	"errors"
)

// fallbackSpeedMetersPerSecond approximates 40 km/h of congested driving.
const fallbackSpeedMetersPerSecond = 40000.0 / 3600.0

// StaticShelters is the offline shelter finder: it always proposes a single
// central shelter just north-east of the query point.
type StaticShelters struct{}

// FindShelters implements the shelter finder contract without any network call.
func (StaticShelters) FindShelters(_ context.Context, p Point, _ int) ([]Shelter, error) {
	if !p.Valid() {
		return nil, errors.New("invalid point")
	}
	return []Shelter{{
		Name:     "Central Shelter",
		Lat:      p.Lat + 0.01,
		Lon:      p.Lon + 0.01,
		Capacity: 200,
	}}, nil
}

// StraightLine estimates routes as the great-circle distance at a fixed
// urban driving speed. It carries no encoded path.
type StraightLine struct{}

// EstimateRoute implements the route estimator contract without any network call.
func (StraightLine) EstimateRoute(_ context.Context, origin, dest Point) (*Route, error) {
	if !origin.Valid() || !dest.Valid() {
		return nil, errors.New("invalid point")
	}
	d := Distance(origin, dest)
	return &Route{
		DistanceMeters:  d,
		DurationSeconds: d / fallbackSpeedMetersPerSecond,
	}, nil
}
