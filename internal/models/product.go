package models

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Product представляет товар из каталога
type Product struct {
	ID           string          `json:"id" yaml:"id"`
	OwnerID      string          `json:"owner_id" yaml:"owner_id"`
	Title        string          `json:"title" yaml:"title"`
	Category     string          `json:"category" yaml:"category"`
	Brand        string          `json:"brand" yaml:"brand"`
	Price        decimal.Decimal `json:"price" yaml:"-"`
	Sizes        []string        `json:"sizes" yaml:"sizes"`
	Exchangeable bool            `json:"exchangeable" yaml:"exchangeable"`
	Available    bool            `json:"available" yaml:"available"`
}

// HasSize проверяет наличие размера у товара
func (p *Product) HasSize(size string) bool {
	return slices.Contains(p.Sizes, size)
}

// SharesSize проверяет, есть ли у товаров общий размер
func (p *Product) SharesSize(other *Product) bool {
	for _, s := range p.Sizes {
		if other.HasSize(s) {
			return true
		}
	}
	return false
}

// ProductsByID индексирует товары по идентификатору
func ProductsByID(products []Product) map[string]*Product {
	index := make(map[string]*Product, len(products))
	for i := range products {
		index[products[i].ID] = &products[i]
	}
	return index
}
