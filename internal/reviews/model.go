package reviews

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
)

// SourceAmazonSerpAPI tags reviews that came through the SerpApi Amazon engine.
const SourceAmazonSerpAPI = "amazon-serpapi"

// RawSnapshot holds the most recent provider payload for a GTIN.
type RawSnapshot struct {
	GTIN          string    `gorm:"column:gtin;primaryKey;size:14;not null"`
	RawResponse   string    `gorm:"column:raw_response;type:text;not null"`
	LastFetchedAt time.Time `gorm:"column:last_fetched_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RawSnapshot) TableName() string {
	return "review_raw_snapshots"
}

// Payload decodes the stored provider response.
func (s RawSnapshot) Payload() (provider.RawPayload, error) {
	var payload provider.RawPayload
	if err := json.Unmarshal([]byte(s.RawResponse), &payload); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.GTIN, err)
	}
	return payload, nil
}

// Review is a canonical, provider-agnostic review row.
// (ProductID, ExternalID) is unique; republishing rewrites the row in place.
type Review struct {
	ID                 string    `gorm:"column:id;primaryKey;size:64;not null"`
	ProductID          *string   `gorm:"column:product_id;size:64;uniqueIndex:idx_reviews_product_external,priority:1;index:idx_reviews_product_created,priority:1"`
	GTIN               string    `gorm:"column:gtin;size:14;not null;index"`
	ExternalID         string    `gorm:"column:external_id;size:512;not null;uniqueIndex:idx_reviews_product_external,priority:2"`
	Rating             float64   `gorm:"column:rating;not null"`
	Title              string    `gorm:"column:title;type:text;not null"`
	Comment            string    `gorm:"column:comment;type:text;not null"`
	ReviewerName       string    `gorm:"column:reviewer_name;size:255;not null"`
	Source             string    `gorm:"column:source;size:64;not null"`
	IsVerifiedPurchase bool      `gorm:"column:is_verified_purchase;not null"`
	IsApproved         bool      `gorm:"column:is_approved;not null"`
	HelpfulCount       *int      `gorm:"column:helpful_count"`
	CreatedAt          time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_reviews_product_created,priority:2"`
	InsertedAt         time.Time `gorm:"column:inserted_at;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return "reviews"
}

// PublishResult reports rows touched by a publish run. Updated counts rewrites of
// existing rows whether or not any field changed.
type PublishResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Fallback carries the name/brand used when a GTIN search finds nothing.
type Fallback struct {
	Name  string
	Brand string
}

// Empty reports whether no fallback was supplied.
func (f Fallback) Empty() bool {
	return f.Name == "" && f.Brand == ""
}

// ReviewSummary is the read model served to the storefront.
type ReviewSummary struct {
	GTIN          string          `json:"gtin"`
	AverageRating float64         `json:"averageRating"`
	ReviewCount   int64           `json:"reviewCount"`
	Source        string          `json:"source"`
	SourceURL     string          `json:"sourceUrl"`
	Reviews       []SummaryReview `json:"reviews"`
}

// SummaryReview is one sampled review inside a summary.
type SummaryReview struct {
	ExternalID         string    `json:"externalId"`
	Rating             float64   `json:"rating"`
	Title              string    `json:"title"`
	Comment            string    `json:"comment"`
	ReviewerName       string    `json:"reviewerName"`
	IsVerifiedPurchase bool      `json:"isVerifiedPurchase"`
	HelpfulCount       *int      `json:"helpfulCount"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ProductStats aggregates stored reviews for one product.
type ProductStats struct {
	ProductID     string
	GTIN          string
	ReviewCount   int64
	AverageRating float64
	VerifiedCount int64
	HelpfulTotal  int64
}
