// Package api provides the interface for fuel price data providers.
package api

import (
	"context"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// Provider defines the interface for fuel price data providers.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchFullSnapshot fetches all stations and their current prices.
	FetchFullSnapshot(ctx context.Context) (models.Snapshot, error)

	// FetchIncrementalSnapshot fetches stations and prices changed since the previous call.
	FetchIncrementalSnapshot(ctx context.Context) (models.Snapshot, error)
}
