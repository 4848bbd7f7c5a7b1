package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	tx *tx
}

func (r *productRepository) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if r.slugTaken(product.Slug) {
		return domain.Product{}, domain.ErrSlugTaken
	}

	s := r.tx.store
	s.mu.Lock()
	s.nextProductID++
	product.ID = s.nextProductID
	s.mu.Unlock()

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Provisioned = product.Available

	created := product
	r.tx.products[product.ID] = &created
	slug := product.Slug
	r.tx.stage(
		func(s *Store) error {
			for _, p := range s.products {
				if p.Slug == slug {
					return domain.ErrSlugTaken
				}
			}
			return nil
		},
		func(s *Store) {
			stored := product
			s.products[stored.ID] = &stored
		},
	)
	return product, nil
}

func (r *productRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	p, ok := r.tx.readProduct(id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r *productRepository) GetBySlug(_ context.Context, slug string) (domain.Product, error) {
	for _, p := range r.snapshot() {
		if p.Slug == slug {
			return p, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

func (r *productRepository) SlugExists(_ context.Context, slug string) (bool, error) {
	return r.slugTaken(slug), nil
}

func (r *productRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	all := r.snapshot()
	result := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if filter.OnlySellable && !p.Sellable {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *productRepository) UpdateDetails(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	p, ok, err := r.tx.lockedProduct(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	now := time.Now().UTC()
	p.Name = product.Name
	p.Description = product.Description
	p.Price = product.Price
	p.Sellable = product.Sellable
	p.UpdatedAt = now

	updated := *p
	r.tx.stage(nil, func(s *Store) {
		if stored, ok := s.products[updated.ID]; ok {
			stored.Name = updated.Name
			stored.Description = updated.Description
			stored.Price = updated.Price
			stored.Sellable = updated.Sellable
			stored.UpdatedAt = updated.UpdatedAt
		}
	})
	return updated, nil
}

// snapshot возвращает все товары с учётом изменений транзакции.
func (r *productRepository) snapshot() []domain.Product {
	r.tx.store.mu.RLock()
	merged := make(map[int64]domain.Product, len(r.tx.store.products))
	for id, p := range r.tx.store.products {
		merged[id] = *p
	}
	r.tx.store.mu.RUnlock()

	for id, p := range r.tx.products {
		merged[id] = *p
	}

	result := make([]domain.Product, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	return result
}

func (r *productRepository) slugTaken(slug string) bool {
	for _, p := range r.snapshot() {
		if p.Slug == slug {
			return true
		}
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)
