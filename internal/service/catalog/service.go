// Package catalog управляет карточками товаров и поставками на склад.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxSlugSuffix    = 1000
	createAttempts   = 3
)

// NewProduct — данные для создания товара.
type NewProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Sellable    bool            `json:"sellable"`
}

// ProductPatch — частичное обновление карточки; nil поля не меняются.
type ProductPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Sellable    *bool            `json:"sellable,omitempty"`
}

// Service реализует администрирование каталога и публичное чтение.
type Service struct {
	txm    domain.TxManager
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(txm domain.TxManager, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{txm: txm, logger: logger}
}

// Create добавляет товар. Slug строится из названия и получает суффикс -1, -2... при совпадении.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input NewProduct) (domain.Product, error) {
	if !actor.Admin {
		return domain.Product{}, domain.ErrForbidden
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Stock < 0 {
		return domain.Product{}, domain.ErrQuantityInvalid
	}
	product := domain.Product{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Price:       input.Price,
		Available:   input.Stock,
		Sellable:    input.Sellable,
	}
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	base := Slugify(input.Name)
	var created domain.Product
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		err = s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			slug, err := uniqueSlug(ctx, tx.Products(), base)
			if err != nil {
				return err
			}
			product.Slug = slug
			created, err = tx.Products().Create(ctx, product)
			return err
		})
		// Параллельное создание с тем же slug: подбираем суффикс заново.
		if !errors.Is(err, domain.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"slug":       created.Slug,
		"stock":      created.Available,
	}).Info("product created")
	return created, nil
}

// Update меняет название, описание, цену или признак продажи.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id int64, patch ProductPatch) (domain.Product, error) {
	if !actor.Admin {
		return domain.Product{}, domain.ErrForbidden
	}

	var updated domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Products().Get(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			current.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Price != nil {
			current.Price = *patch.Price
		}
		if patch.Sellable != nil {
			current.Sellable = *patch.Sellable
		}
		updated, err = tx.Products().UpdateDetails(ctx, current)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// Restock принимает поставку через складской учёт.
func (s *Service) Restock(ctx context.Context, actor domain.Actor, id int64, qty int) (domain.Product, error) {
	if !actor.Admin {
		return domain.Product{}, domain.ErrForbidden
	}
	if qty <= 0 {
		return domain.Product{}, domain.ErrQuantityInvalid
	}

	var product domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Ledger().Provision(ctx, id, qty)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": id,
		"qty":        qty,
		"available":  product.Available,
	}).Info("product restocked")
	return product, nil
}

// GetBySlug возвращает товар витрины. Снятые с продажи товары не видны.
func (s *Service) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	var product domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Products().GetBySlug(ctx, strings.TrimSpace(slug))
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Sellable {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// List возвращает опубликованные товары по возрастанию id.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var products []domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		products, err = tx.Products().List(ctx, domain.ProductFilter{OnlySellable: true, Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func uniqueSlug(ctx context.Context, repo domain.ProductRepository, base string) (string, error) {
	candidate := base
	for i := 1; i <= maxSlugSuffix; i++ {
		exists, err := repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("slug %q: %w", base, domain.ErrSlugTaken)
}
