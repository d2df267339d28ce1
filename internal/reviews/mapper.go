package reviews

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
)

const (
	maxRating          = 5.0
	hashIDPrefix       = "hash:"
	trackingSegmentTag = "ref="
)

var (
	verifiedPurchasePattern = regexp.MustCompile(`(?i)\bverified\s*purchase`)
	leadingNumberPattern    = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
	digitRunPattern         = regexp.MustCompile(`-?\d[\d,]*`)
	reviewedOnPattern       = regexp.MustCompile(`(?i)\bon\s+([A-Za-z]+\s+\d{1,2},\s*\d{4})\s*$`)

	errNoLink       = errors.New("review link is empty")
	errInvalidLink  = errors.New("review link is not an absolute http(s) url")
	errLinkHasNoKey = errors.New("review link has no path")

	reviewDateLayouts = []string{
		time.RFC3339,
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
	}
	commentKeys  = []string{"text", "content", "body", "snippet", "comment", "review"}
	reviewerKeys = []string{"author", "reviewer", "reviewer_name", "username"}
	helpfulKeys  = []string{"helpful_count", "helpful_votes"}
)

// MappingResult holds the canonical reviews produced from one payload plus the
// number of records that could not be mapped.
type MappingResult struct {
	Reviews []Review
	Skipped int
}

// MapToReviews translates a provider payload into canonical reviews. It never
// fails: records that cannot be mapped are counted in Skipped.
func MapToReviews(payload provider.RawPayload, productID *string, gtin string, now time.Time) MappingResult {
	records := reviewRecords(payload)
	result := MappingResult{Reviews: make([]Review, 0, len(records))}
	for _, record := range records {
		review, ok := mapRecord(record, productID, gtin, now)
		if !ok {
			result.Skipped++
			continue
		}
		result.Reviews = append(result.Reviews, review)
	}
	return result
}

// CountRecords reports how many review-shaped records a payload carries.
func CountRecords(payload provider.RawPayload) int {
	return len(reviewRecords(payload))
}

func reviewRecords(payload provider.RawPayload) []any {
	if payload == nil {
		return nil
	}
	if records, ok := payload["reviews"].([]any); ok {
		return records
	}
	if productResults, ok := payload["product_results"].(map[string]any); ok {
		if records, ok := productResults["reviews"].([]any); ok {
			return records
		}
	}
	if information, ok := payload["reviews_information"].(map[string]any); ok {
		if records, ok := information["authors_reviews"].([]any); ok {
			return records
		}
	}
	return nil
}

func mapRecord(record any, productID *string, gtin string, now time.Time) (Review, bool) {
	object, ok := record.(map[string]any)
	if !ok {
		return Review{}, false
	}
	title := stringField(object, "title")
	comment := firstString(object, commentKeys...)
	if title == "" && comment == "" {
		return Review{}, false
	}

	reviewer := firstString(object, reviewerKeys...)
	if reviewer == "" {
		if profile, ok := object["profile"].(map[string]any); ok {
			reviewer = stringField(profile, "name")
		}
	}
	rawDate := stringField(object, "date")

	externalID, err := ExtractExternalID(stringField(object, "link"))
	if err != nil {
		externalID = fallbackExternalID(title, rawDate, reviewer)
	}

	var helpful *int
	for _, key := range helpfulKeys {
		if helpful = parseHelpfulCount(object[key]); helpful != nil {
			break
		}
	}

	return Review{
		ProductID:          productID,
		GTIN:               gtin,
		ExternalID:         externalID,
		Rating:             parseRating(object["rating"]),
		Title:              title,
		Comment:            comment,
		ReviewerName:       reviewer,
		Source:             SourceAmazonSerpAPI,
		IsVerifiedPurchase: verifiedPurchasePattern.MatchString(stringField(object, "source")),
		IsApproved:         true,
		HelpfulCount:       helpful,
		CreatedAt:          parseReviewDate(rawDate, now),
	}, true
}

// ExtractExternalID derives a stable key from a review permalink: lowercase host
// without "www.", plus the path with query, fragment, trailing slashes and
// "ref=" tracking segments removed.
func ExtractExternalID(link string) (string, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return "", errNoLink
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", errInvalidLink
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	segments := make([]string, 0, 4)
	for _, segment := range strings.Split(parsed.Path, "/") {
		if segment == "" || strings.HasPrefix(segment, trackingSegmentTag) {
			continue
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return "", errLinkHasNoKey
	}
	return host + "/" + strings.Join(segments, "/"), nil
}

func fallbackExternalID(title, date, reviewer string) string {
	sum := sha256.Sum256([]byte(title + "|" + date + "|" + reviewer))
	return hashIDPrefix + hex.EncodeToString(sum[:16])
}

func parseRating(value any) float64 {
	var rating float64
	switch typed := value.(type) {
	case float64:
		rating = typed
	case int:
		rating = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0
		}
		rating = parsed
	case string:
		match := leadingNumberPattern.FindString(typed)
		if match == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
		if err != nil {
			return 0
		}
		rating = parsed
	default:
		return 0
	}
	if math.IsNaN(rating) || rating < 0 {
		return 0
	}
	return math.Min(rating, maxRating)
}

func parseHelpfulCount(value any) *int {
	switch typed := value.(type) {
	case float64:
		if typed < 0 || typed != math.Trunc(typed) || typed > math.MaxInt32 {
			return nil
		}
		count := int(typed)
		return &count
	case int:
		if typed < 0 {
			return nil
		}
		return &typed
	case string:
		trimmed := strings.TrimSpace(strings.ToLower(typed))
		if strings.HasPrefix(trimmed, "one ") {
			count := 1
			return &count
		}
		match := digitRunPattern.FindString(trimmed)
		if match == "" {
			return nil
		}
		count, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
		if err != nil || count < 0 {
			return nil
		}
		return &count
	default:
		return nil
	}
}

func parseReviewDate(raw string, now time.Time) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return now.UTC()
	}
	if match := reviewedOnPattern.FindStringSubmatch(trimmed); match != nil {
		trimmed = match[1]
	}
	for _, layout := range reviewDateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return now.UTC()
}

func stringField(object map[string]any, key string) string {
	value, ok := object[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstString(object map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringField(object, key); value != "" {
			return value
		}
	}
	return ""
}
