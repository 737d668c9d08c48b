package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

var (
	// ErrMissingField is returned when a mandatory product field is absent or blank.
	ErrMissingField = errors.New("missing mandatory field")

	// ErrInvalidField is returned when a product field cannot be parsed.
	ErrInvalidField = errors.New("invalid field")
)

// ElementError describes a product element that could not be converted.
type ElementError struct {
	Ordinal   int
	ProductID string
	Field     string
	Err       error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("product element #%d (id=%q): %s: %v", e.Ordinal, e.ProductID, e.Field, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

type offerElement struct {
	ID           string         `xml:"id,attr"`
	Name         *string        `xml:"name"`
	Description  *string        `xml:"description"`
	Vendor       *string        `xml:"vendor"`
	Pictures     []string       `xml:"picture"`
	CategoryID   *string        `xml:"categoryId"`
	CurrencyID   *string        `xml:"currencyId"`
	Barcodes     []string       `xml:"barcode"`
	ModifiedTime *string        `xml:"modified_time"`
	Price        *string        `xml:"price"`
	OldPrice     *string        `xml:"oldprice"`
	Params       []paramElement `xml:"param"`
}

type paramElement struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// productBuilder converts decoded elements into products.
type productBuilder struct {
	index     *CategoryIndex
	separator string
	newID     func() uuid.UUID
}

func (b *productBuilder) build(ordinal int, el *offerElement) (*domain.Product, error) {
	fail := func(field string, err error) error {
		return &ElementError{Ordinal: ordinal, ProductID: el.ID, Field: field, Err: err}
	}

	productID, err := parseInt(&el.ID)
	if err != nil {
		return nil, fail("id", err)
	}
	title, err := required(el.Name)
	if err != nil {
		return nil, fail("name", err)
	}
	picture, err := required(first(el.Pictures))
	if err != nil {
		return nil, fail("picture", err)
	}
	categoryID, err := parseInt(el.CategoryID)
	if err != nil {
		return nil, fail("categoryId", err)
	}
	currency, err := required(el.CurrencyID)
	if err != nil {
		return nil, fail("currencyId", err)
	}
	modified, err := parseInt(el.ModifiedTime)
	if err != nil {
		return nil, fail("modified_time", err)
	}
	barcode, err := optionalInt(first(el.Barcodes))
	if err != nil {
		return nil, fail("barcode", err)
	}
	price, err := optionalFloat(el.Price)
	if err != nil {
		return nil, fail("price", err)
	}
	oldPrice, err := optionalFloat(el.OldPrice)
	if err != nil {
		return nil, fail("oldprice", err)
	}
	features, err := encodeFeatures(el.Params)
	if err != nil {
		return nil, fail("param", err)
	}

	ts := time.Unix(*modified, 0).UTC()

	p := &domain.Product{
		UUID:                 b.newID(),
		ProductID:            *productID,
		Title:                title,
		Description:          optional(el.Description),
		SellerName:           optional(el.Vendor),
		FirstImageURL:        picture,
		CategoryID:           *categoryID,
		Features:             features,
		PriceBeforeDiscounts: oldPrice,
		PriceAfterDiscounts:  price,
		InsertedAt:           ts,
		UpdatedAt:            ts,
		Currency:             currency,
		Barcode:              barcode,
	}
	b.assignCategories(p)
	return p, nil
}

// assignCategories spreads the resolved path over the three level columns and
// joins anything deeper into the remaining column.
func (b *productBuilder) assignCategories(p *domain.Product) {
	path := b.index.ResolvePath(p.CategoryID)
	if len(path) == 0 {
		b.index.log.Debug("Product references unknown category",
			"product_id", p.ProductID,
			"category_id", p.CategoryID,
		)
		return
	}

	levels := []**string{&p.CategoryLvl1, &p.CategoryLvl2, &p.CategoryLvl3}
	for i, lvl := range levels {
		if i >= len(path) {
			return
		}
		name := path[i]
		*lvl = &name
	}
	if len(path) > len(levels) {
		rest := strings.Join(path[len(levels):], b.separator)
		p.CategoryRemaining = &rest
	}
}

// encodeFeatures keeps params in first-seen order; a repeated name keeps its
// position and takes the last value.
func encodeFeatures(params []paramElement) (string, error) {
	features := orderedmap.New[string, string](len(params))
	for _, param := range params {
		features.Set(param.Name, strings.TrimSpace(param.Value))
	}
	data, err := json.Marshal(features)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func first(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	return &values[0]
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func required(s *string) (string, error) {
	v := optional(s)
	if v == nil {
		return "", ErrMissingField
	}
	return *v, nil
}

func parseInt(s *string) (*int64, error) {
	v, err := required(s)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return &n, nil
}

func optionalInt(s *string) (*int64, error) {
	if optional(s) == nil {
		return nil, nil
	}
	return parseInt(s)
}

func optionalFloat(s *string) (*float64, error) {
	v := optional(s)
	if v == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(*v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return &f, nil
}
