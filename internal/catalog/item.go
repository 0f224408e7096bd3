package catalog

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/apotheca/apotheca/internal/sequence"
)

// maxPrice mirrors the NUMERIC(7,2) price columns.
var maxPrice = decimal.NewFromInt(100000)

// Item is one purchasable product in the catalog.
type Item struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	GenericName  string          `json:"generic_name"`
	BrandName    string          `json:"brand_name,omitempty"`
	Strength     string          `json:"strength"`
	Form         string          `json:"form"`
	PackSize     int             `json:"pack_size"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	DisplayName  string          `json:"display_name"`
	Slug         string          `json:"slug"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ItemInput carries the user supplied fields of an item. Code is optional;
// when empty one is drawn from the catalog_item sequence.
type ItemInput struct {
	Code         string          `json:"code" validate:"omitempty,numeric,len=5"`
	GenericName  string          `json:"generic_name" validate:"required,max=255"`
	BrandName    string          `json:"brand_name" validate:"max=255"`
	Strength     string          `json:"strength" validate:"required,max=255"`
	Form         string          `json:"form" validate:"required,max=100"`
	PackSize     int             `json:"pack_size" validate:"gt=0"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

var validate = validator.New()

// NewItem validates input and derives the display name and slug.
func NewItem(input ItemInput) (Item, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.GenericName = strings.TrimSpace(input.GenericName)
	input.BrandName = strings.TrimSpace(input.BrandName)
	input.Strength = strings.TrimSpace(input.Strength)
	input.Form = strings.TrimSpace(input.Form)

	if err := validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if input.Code != "" {
		if err := sequence.CatalogItem.Validate(input.Code); err != nil {
			return Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
	}
	if err := checkPrices(input.CostPrice, input.SellingPrice); err != nil {
		return Item{}, err
	}

	item := Item{
		Code:         input.Code,
		GenericName:  input.GenericName,
		BrandName:    input.BrandName,
		Strength:     input.Strength,
		Form:         input.Form,
		PackSize:     input.PackSize,
		CostPrice:    input.CostPrice,
		SellingPrice: input.SellingPrice,
	}
	item.DisplayName = displayName(item)
	item.Slug = slugify(item.DisplayName)
	return item, nil
}

// UnitSellingPrice is the pack selling price split over the pack, to cents.
func (i Item) UnitSellingPrice() decimal.Decimal {
	if i.PackSize <= 0 {
		return decimal.Zero
	}
	return i.SellingPrice.Div(decimal.NewFromInt(int64(i.PackSize))).Round(2)
}

// Margin is the pack selling price minus the pack cost.
func (i Item) Margin() decimal.Decimal {
	return i.SellingPrice.Sub(i.CostPrice)
}

func checkPrices(cost, selling decimal.Decimal) error {
	if !cost.IsPositive() {
		return fmt.Errorf("%w: cost price must be greater than zero", ErrInvalidItem)
	}
	if selling.LessThan(cost) {
		return fmt.Errorf("%w: selling price %s is below cost price %s", ErrInvalidItem, selling, cost)
	}
	for _, p := range []decimal.Decimal{cost, selling} {
		if !p.Equal(p.Round(2)) {
			return fmt.Errorf("%w: price %s has more than two decimal places", ErrInvalidItem, p)
		}
		if p.GreaterThanOrEqual(maxPrice) {
			return fmt.Errorf("%w: price %s exceeds %s", ErrInvalidItem, p, maxPrice)
		}
	}
	return nil
}

func displayName(item Item) string {
	parts := []string{item.GenericName}
	if item.BrandName != "" {
		parts = append(parts, "("+item.BrandName+")")
	}
	parts = append(parts,
		item.Strength,
		cases.Title(language.Und).String(item.Form),
		fmt.Sprintf("x%d", item.PackSize),
	)
	return strings.Join(parts, " ")
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
