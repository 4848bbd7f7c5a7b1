package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, slug, name, description, price, available, provisioned, sellable, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price,
		&p.Available, &p.Provisioned, &p.Sellable, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

type productRepository struct {
	q querier
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	now := time.Now().UTC()
	created, err := scanProduct(r.q.QueryRowContext(ctx, `
		INSERT INTO products (
			slug, name, description, price, available, provisioned, sellable, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$5,$6,$7,$7)
		RETURNING `+productColumns,
		product.Slug, product.Name, product.Description, product.Price,
		product.Available, product.Sellable, now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrSlugTaken
		}
		return domain.Product{}, storageErr("insert product", err)
	}
	return created, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageErr("select product", err)
	}
	return p, nil
}

func (r *productRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageErr("select product by slug", err)
	}
	return p, nil
}

func (r *productRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE slug = $1)`, slug).Scan(&exists); err != nil {
		return false, storageErr("check product slug", err)
	}
	return exists, nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = FALSE OR sellable)
		ORDER BY id
	`

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", filter.OnlySellable, filter.Limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, filter.OnlySellable)
	}
	if err != nil {
		return nil, storageErr("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr("scan product row", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate product rows", err)
	}
	return products, nil
}

// UpdateDetails не трогает available и provisioned: ими владеет ledger.
func (r *productRepository) UpdateDetails(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	updated, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    price = $4,
		    sellable = $5,
		    updated_at = $6
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Description, product.Price, product.Sellable, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageErr("update product", err)
	}
	return updated, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
