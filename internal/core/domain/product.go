package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product is a single catalog record as loaded into the sink.
// Column names come from the db tags; both the extractor and the sink bind
// to these names, never to field positions.
type Product struct {
	UUID                 uuid.UUID `db:"uuid"`
	MarketplaceID        *int64    `db:"marketplace_id"`
	ProductID            int64     `db:"product_id"`
	Title                string    `db:"title"`
	Description          *string   `db:"description"`
	Brand                *int64    `db:"brand"`
	SellerID             *int64    `db:"seller_id"`
	SellerName           *string   `db:"seller_name"`
	FirstImageURL        string    `db:"first_image_url"`
	CategoryID           int64     `db:"category_id"`
	CategoryLvl1         *string   `db:"category_lvl_1"`
	CategoryLvl2         *string   `db:"category_lvl_2"`
	CategoryLvl3         *string   `db:"category_lvl_3"`
	CategoryRemaining    *string   `db:"category_remaining"`
	Features             string    `db:"features"`
	RatingCount          *int64    `db:"rating_count"`
	RatingValue          *float64  `db:"rating_value"`
	PriceBeforeDiscounts *float64  `db:"price_before_discounts"`
	Discount             *float64  `db:"discount"`
	PriceAfterDiscounts  *float64  `db:"price_after_discounts"`
	Bonuses              *int64    `db:"bonuses"`
	Sales                *int64    `db:"sales"`
	InsertedAt           time.Time `db:"inserted_at"`
	UpdatedAt            time.Time `db:"updated_at"`
	Currency             string    `db:"currency"`
	Barcode              *int64    `db:"barcode"`
}

// ProductColumns lists the sink columns in table order.
var ProductColumns = []string{
	"uuid",
	"marketplace_id",
	"product_id",
	"title",
	"description",
	"brand",
	"seller_id",
	"seller_name",
	"first_image_url",
	"category_id",
	"category_lvl_1",
	"category_lvl_2",
	"category_lvl_3",
	"category_remaining",
	"features",
	"rating_count",
	"rating_value",
	"price_before_discounts",
	"discount",
	"price_after_discounts",
	"bonuses",
	"sales",
	"inserted_at",
	"updated_at",
	"currency",
	"barcode",
}

// NaturalKey identifies a product revision independent of its generated UUID.
type NaturalKey struct {
	ProductID int64
	UpdatedAt int64
}

// Key returns the natural identity the sink deduplicates on.
func (p *Product) Key() NaturalKey {
	return NaturalKey{ProductID: p.ProductID, UpdatedAt: p.UpdatedAt.Unix()}
}

// CategoryPath returns the resolved root-to-leaf path stored on the product.
func (p *Product) CategoryPath(sep string) []string {
	var path []string
	for _, lvl := range []*string{p.CategoryLvl1, p.CategoryLvl2, p.CategoryLvl3} {
		if lvl == nil {
			return path
		}
		path = append(path, *lvl)
	}
	if p.CategoryRemaining != nil && *p.CategoryRemaining != "" {
		path = append(path, strings.Split(*p.CategoryRemaining, sep)...)
	}
	return path
}

// Batch is an ordered group of products loaded in one sink transaction.
type Batch []*Product
