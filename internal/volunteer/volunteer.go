// Package volunteer allocates regional volunteers to response plans.
package volunteer

import (
	"context"
	"fmt"
)

// StatusOK marks a successful allocation.
const StatusOK = "ok"

// Request asks for a number of volunteers at a location.
type Request struct {
	Location string `json:"location"`
	Required int    `json:"required"`
}

// Result is the outcome of an allocation.
type Result struct {
	Status   string `json:"status"`
	Assigned int    `json:"assigned"`
	Location string `json:"location"`
	Required int    `json:"required"`
}

// CapacityLookup returns the volunteer pool size for a location.
type CapacityLookup interface {
	Capacity(location string) int
}

// CapacityAllocator assigns up to the regional pool size. It does not
// decrement the pool: each request is evaluated against full capacity.
type CapacityAllocator struct {
	pools CapacityLookup
}

// NewCapacityAllocator creates an allocator backed by the given pools.
func NewCapacityAllocator(pools CapacityLookup) *CapacityAllocator {
	return &CapacityAllocator{pools: pools}
}

// Assign returns min(required, capacity) volunteers for the location.
func (a *CapacityAllocator) Assign(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Required < 0 {
		return nil, fmt.Errorf("required must be >= 0, got %d", req.Required)
	}

	capacity := 0
	if a.pools != nil {
		capacity = a.pools.Capacity(req.Location)
	}

	return &Result{
		Status:   StatusOK,
		Assigned: min(req.Required, capacity),
		Location: req.Location,
		Required: req.Required,
	}, nil
}
