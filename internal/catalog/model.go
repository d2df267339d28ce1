package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidGTIN indicates that a value is not an 8, 12, 13 or 14 digit trade item number.
var ErrInvalidGTIN = errors.New("catalog: invalid gtin")

// Product is the slice of the storefront catalog the review pipeline reads.
type Product struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Slug      string    `gorm:"column:slug;size:190;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;size:512;not null"`
	Brand     string    `gorm:"column:brand;size:190;not null;default:''"`
	GTIN      *string   `gorm:"column:gtin;size:14;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// NormalizeGTIN strips separators and validates the digit count.
func NormalizeGTIN(raw string) (string, error) {
	var builder strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == ' ' || r == '-':
			continue
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidGTIN, r)
		}
	}
	normalized := builder.String()
	switch len(normalized) {
	case 8, 12, 13, 14:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %d digits", ErrInvalidGTIN, len(normalized))
	}
}
