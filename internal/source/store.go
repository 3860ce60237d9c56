package source

import (
	"context"
	"fmt"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

// Lister is the part of the store a StoreSource reads.
type Lister interface {
	ListLocations(ctx context.Context, cursor string, limit int) ([]model.Location, string, error)
}

// StoreSource reads every stored candidate location, page by page.
type StoreSource struct {
	Store    Lister
	PageSize int
}

func (s StoreSource) Name() string { return "store" }

func (s StoreSource) Locations(ctx context.Context) ([]opt.Location, error) {
	var out []opt.Location
	cursor := ""
	for {
		page, next, err := s.Store.ListLocations(ctx, cursor, s.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list locations: %w", err)
		}
		for _, l := range page {
			out = append(out, opt.Location{
				ID:          l.ID,
				Lat:         l.Lat,
				Lng:         l.Lng,
				CaseRef:     l.CaseRef,
				Address:     l.Address,
				Description: l.Description,
			})
		}
		if next == "" || len(page) == 0 {
			return out, nil
		}
		cursor = next
	}
}
