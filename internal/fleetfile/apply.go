package fleetfile

import (
	"context"
	"errors"
	"fmt"

	"github.com/printfleet/printfleet/internal/storage"
)

// Report lists what Apply did, as "kind id" strings in file order.
type Report struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// Apply writes the plan to store in dependency order: printers, gcodes,
// products, components. Records with an ID that already exists are left
// alone except printers, which are updated in place (status is kept).
//
// Apply is not atomic across records. It stops at the first failure; the
// returned report shows what was written before it.
func Apply(ctx context.Context, store storage.Storage, p *Plan) (*Report, error) {
	r := &Report{}

	for _, pr := range p.Printers {
		if pr.ID != "" {
			_, err := store.GetPrinter(ctx, pr.ID)
			switch {
			case err == nil:
				if err := store.UpdatePrinter(ctx, pr); err != nil {
					return r, fmt.Errorf("update printer %s: %w", pr.ID, err)
				}
				r.Updated = append(r.Updated, "printer "+pr.ID)
				continue
			case !errors.Is(err, storage.ErrNotFound):
				return r, fmt.Errorf("get printer %s: %w", pr.ID, err)
			}
		}
		if err := store.CreatePrinter(ctx, pr); err != nil {
			return r, fmt.Errorf("create printer %s: %w", pr.Name, err)
		}
		r.Created = append(r.Created, "printer "+pr.ID)
	}

	for _, g := range p.Gcodes {
		if ok, err := exists(ctx, g.ID, store.GetGcode); err != nil {
			return r, err
		} else if ok {
			r.Unchanged = append(r.Unchanged, "gcode "+g.ID)
			continue
		}
		if err := store.CreateGcode(ctx, g); err != nil {
			return r, fmt.Errorf("create gcode %s: %w", g.Name, err)
		}
		r.Created = append(r.Created, "gcode "+g.ID)
	}

	for _, prod := range p.Products {
		if ok, err := exists(ctx, prod.ID, store.GetProduct); err != nil {
			return r, err
		} else if ok {
			r.Unchanged = append(r.Unchanged, "product "+prod.ID)
			continue
		}
		if err := store.CreateProduct(ctx, prod); err != nil {
			return r, fmt.Errorf("create product %s: %w", prod.Name, err)
		}
		r.Created = append(r.Created, "product "+prod.ID)
	}

	for _, c := range p.Components {
		if ok, err := exists(ctx, c.ID, store.GetComponent); err != nil {
			return r, err
		} else if ok {
			r.Unchanged = append(r.Unchanged, "component "+c.ID)
			continue
		}
		if err := store.CreateComponent(ctx, c); err != nil {
			return r, fmt.Errorf("create component %s: %w", c.Name, err)
		}
		r.Created = append(r.Created, "component "+c.ID)
	}
	return r, nil
}

func exists[T any](ctx context.Context, id string, get func(context.Context, string) (T, error)) (bool, error) {
	if id == "" {
		return false, nil
	}
	_, err := get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("lookup %s: %w", id, err)
}
