package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"release-tracker/internal/models"
)

// Error codes for normalization failures
const (
	CodeMissingIdentity = "missing_identity"
)

// NormalizationError reports why a raw record could not be normalized
type NormalizationError struct {
	Code     string
	SourceID string
	Detail   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed (%s): %s", e.Code, e.Detail)
}

// statusVocab maps source-specific status strings onto the canonical enum.
// Vocabulary observed across the source adapters; anything unmapped falls
// through to ParseStatus and ends up as unknown.
var statusVocab = map[string]models.Status{
	"live":         models.StatusAvailable,
	"released":     models.StatusAvailable,
	"in_stock":     models.StatusAvailable,
	"instock":      models.StatusAvailable,
	"announced":    models.StatusUpcoming,
	"coming_soon":  models.StatusUpcoming,
	"preorder":     models.StatusUpcoming,
	"draw":         models.StatusRaffle,
	"lottery":      models.StatusRaffle,
	"oos":          models.StatusSoldOut,
	"out_of_stock": models.StatusSoldOut,
	"soldout":      models.StatusSoldOut,
}

// Normalizer converts raw source records into canonical releases. It is a
// pure transformation; nothing here touches a store or the network.
type Normalizer struct {
	brands *BrandTable
	now    func() time.Time
}

// New creates a Normalizer backed by the given brand alias table
func New(brands *BrandTable) *Normalizer {
	return &Normalizer{brands: brands, now: time.Now}
}

// Normalize converts a raw record into a canonical Release. A record missing
// both a name and a SKU-like token is a hard failure; everything else
// degrades field by field.
func (n *Normalizer) Normalize(raw models.RawRecord, src models.SourceContext) (*models.Release, error) {
	sku := firstNonEmpty(raw.SKU, raw.StyleCode)
	name := strings.TrimSpace(raw.Name)

	if sku == "" && name == "" {
		return nil, &NormalizationError{
			Code:     CodeMissingIdentity,
			SourceID: src.SourceID,
			Detail:   "record has neither a product name nor a SKU-like token",
		}
	}
	if sku == "" {
		// name-only records get a synthetic SKU so the identity key stays stable
		sku = slugify(name)
	}

	release := &models.Release{
		IdentityKey: models.MakeIdentityKey(sku, src.RetailerID),
		SKU:         strings.ToLower(strings.TrimSpace(sku)),
		RetailerID:  strings.ToLower(strings.TrimSpace(src.RetailerID)),
		SourceID:    strings.TrimSpace(src.SourceID),
		Name:        name,
		Brand:       n.brands.Canonical(firstNonEmpty(raw.Brand, name)),
		PriceCents:  ParsePriceCents(raw.Price),
		Currency:    normalizeCurrency(raw.Currency),
		Status:      NormalizeStatus(raw.Status),
		ReleaseDate: parseDate(raw.ReleaseDate),
		ImageURLs:   dedupeURLs(raw.ImageURLs),
		SourceURL:   strings.TrimSpace(raw.SourceURL),
	}

	return release, nil
}

// NormalizeStatus maps a source status string onto the canonical enum
func NormalizeStatus(raw string) models.Status {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if st, ok := statusVocab[cleaned]; ok {
		return st
	}
	return models.ParseStatus(cleaned)
}

// ParsePriceCents parses price strings like "$180", "180.00", "1,299.95 €"
// and decimal-comma forms like "1.234,00" into integer cents. A comma
// followed by at most two digits is a decimal separator; otherwise commas
// are grouping. Unparseable prices yield zero, not an error.
func ParsePriceCents(raw string) int64 {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", " ", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')
	if lastComma > lastDot && len(cleaned)-lastComma-1 <= 2 {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

// parseDate accepts any parseable date/time representation; release dates are
// informational, so failures yield nil rather than rejecting the record.
func parseDate(raw string) *time.Time {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}
	t, err := dateparse.ParseAny(cleaned)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func normalizeCurrency(raw string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if cleaned == "" {
		return "USD"
	}
	return cleaned
}

func dedupeURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
