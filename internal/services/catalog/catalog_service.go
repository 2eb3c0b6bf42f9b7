package catalog

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
	"github.com/rajivgeraev/flippy-api/internal/models"
)

// CatalogService предоставляет чтение товаров каталога.
// Каталог ведётся внешней системой, здесь он доступен только на чтение.
type CatalogService struct {
	store db.Reader
}

// NewCatalogService создает новый экземпляр CatalogService
func NewCatalogService(store db.Reader) *CatalogService {
	return &CatalogService{store: store}
}

// Products возвращает снимок всех товаров
func (s *CatalogService) Products(ctx context.Context) ([]models.Product, error) {
	products, err := db.ReadAll[models.Product](ctx, s.store, db.CollectionProducts)
	if err != nil {
		return nil, apperr.Store(err, "ошибка чтения каталога")
	}
	return products, nil
}

// GetProduct находит товар по идентификатору
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].ID == id {
			return &products[i], nil
		}
	}
	return nil, apperr.NotFound("Товар не найден").With("product_id", id)
}

// ProductsByIDs возвращает найденные товары в порядке ids и список отсутствующих идентификаторов
func (s *CatalogService) ProductsByIDs(ctx context.Context, ids []string) ([]models.Product, []string, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return nil, nil, err
	}
	index := models.ProductsByID(products)

	found := make([]models.Product, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := index[id]; ok {
			found = append(found, *p)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

// ProductsByOwner возвращает товары владельца в порядке каталога
func (s *CatalogService) ProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]models.Product, 0)
	for _, p := range products {
		if p.OwnerID == ownerID {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

// GetMyProducts возвращает товары текущего пользователя
func (s *CatalogService) GetMyProducts(c fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}

	products, err := s.ProductsByOwner(c.Context(), user.ID)
	if err != nil {
		return err
	}

	if c.Query("exchangeable") == "true" {
		filtered := products[:0]
		for _, p := range products {
			if p.Exchangeable {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}

	return c.JSON(fiber.Map{
		"products": products,
		"count":    len(products),
	})
}

// GetProductHandler возвращает один товар
func (s *CatalogService) GetProductHandler(c fiber.Ctx) error {
	product, err := s.GetProduct(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(product)
}
