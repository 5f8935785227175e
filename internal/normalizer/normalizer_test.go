package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-tracker/internal/models"
)

func newTestNormalizer() *Normalizer {
	return New(NewBrandTable(""))
}

func TestNormalizeBasicRecord(t *testing.T) {
	n := newTestNormalizer()

	release, err := n.Normalize(models.RawRecord{
		Name:        "Air Jordan 1 Retro High OG",
		SKU:         "DZ5485-612",
		Brand:       "nike",
		Price:       "$180",
		Status:      "upcoming",
		ReleaseDate: "2025-11-18T10:00:00Z",
		SourceURL:   "https://nike.com/launch/dz5485-612",
	}, models.SourceContext{SourceID: "snkrs", RetailerID: "nike"})

	require.NoError(t, err)
	assert.Equal(t, "dz5485-612:nike", release.IdentityKey)
	assert.Equal(t, "snkrs", release.SourceID)
	assert.Equal(t, "Nike", release.Brand)
	assert.Equal(t, int64(18000), release.PriceCents)
	assert.Equal(t, models.StatusUpcoming, release.Status)
	require.NotNil(t, release.ReleaseDate)
	assert.Equal(t, 2025, release.ReleaseDate.Year())
}

func TestNormalizeMissingIdentity(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(models.RawRecord{Price: "$100"}, models.SourceContext{SourceID: "feed", RetailerID: "shop"})

	require.Error(t, err)
	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, CodeMissingIdentity, nerr.Code)
}

func TestNormalizeNameOnlyRecordGetsSyntheticSKU(t *testing.T) {
	n := newTestNormalizer()

	release, err := n.Normalize(models.RawRecord{Name: "Yeezy Boost 350 V2"},
		models.SourceContext{RetailerID: "adidas"})

	require.NoError(t, err)
	assert.Equal(t, "yeezy-boost-350-v2:adidas", release.IdentityKey)
	assert.Equal(t, "Adidas", release.Brand)
}

func TestIdentityKeyStableUnderCasingAndWhitespace(t *testing.T) {
	n := newTestNormalizer()
	ctx := models.SourceContext{RetailerID: " NIKE "}

	a, err := n.Normalize(models.RawRecord{Name: "x", SKU: "DZ5485-612"}, ctx)
	require.NoError(t, err)
	b, err := n.Normalize(models.RawRecord{Name: "x", SKU: "  dz5485-612  "}, ctx)
	require.NoError(t, err)

	assert.Equal(t, a.IdentityKey, b.IdentityKey)
}

func TestBrandNormalization(t *testing.T) {
	brands := NewBrandTable("")

	assert.Equal(t, "Nike", brands.Canonical("NIKE"))
	assert.Equal(t, "Nike", brands.Canonical("Nike Inc."))
	assert.Equal(t, "Nike", brands.Canonical("air jordan"))
	assert.Equal(t, "Adidas", brands.Canonical("yeezy"))
	assert.Equal(t, "Some Obscure Label", brands.Canonical("some obscure label"))
	assert.Equal(t, "Émoi Studio", brands.Canonical("émoi studio"))
	assert.Equal(t, "Unknown", brands.Canonical("  "))
}

func TestUnparseableDateYieldsNil(t *testing.T) {
	n := newTestNormalizer()

	release, err := n.Normalize(models.RawRecord{
		Name:        "Dunk Low",
		SKU:         "DD1391-100",
		ReleaseDate: "sometime next summer",
	}, models.SourceContext{RetailerID: "nike"})

	require.NoError(t, err)
	assert.Nil(t, release.ReleaseDate)
}

func TestParsePriceCents(t *testing.T) {
	assert.Equal(t, int64(18000), ParsePriceCents("$180"))
	assert.Equal(t, int64(129995), ParsePriceCents("1,299.95 €"))
	assert.Equal(t, int64(11000), ParsePriceCents("110"))
	assert.Equal(t, int64(0), ParsePriceCents("call for price"))
	assert.Equal(t, int64(0), ParsePriceCents(""))
}

func TestParsePriceCentsDecimalComma(t *testing.T) {
	assert.Equal(t, int64(123400), ParsePriceCents("1.234,00"))
	assert.Equal(t, int64(18050), ParsePriceCents("180,50 €"))
	assert.Equal(t, int64(123400), ParsePriceCents("1,234"))
	assert.Equal(t, int64(999999), ParsePriceCents("9.999,99"))
}

func TestStatusVocabulary(t *testing.T) {
	assert.Equal(t, models.StatusAvailable, NormalizeStatus("live"))
	assert.Equal(t, models.StatusAvailable, NormalizeStatus("IN_STOCK"))
	assert.Equal(t, models.StatusRaffle, NormalizeStatus("draw"))
	assert.Equal(t, models.StatusSoldOut, NormalizeStatus("oos"))
	assert.Equal(t, models.StatusUpcoming, NormalizeStatus("announced"))
	assert.Equal(t, models.StatusUnknown, NormalizeStatus("weird-new-state"))
}

func TestImageURLDedupe(t *testing.T) {
	n := newTestNormalizer()

	release, err := n.Normalize(models.RawRecord{
		Name:      "Dunk Low",
		SKU:       "DD1391-100",
		ImageURLs: []string{"https://a/1.jpg", "https://a/2.jpg", "https://a/1.jpg", ""},
	}, models.SourceContext{RetailerID: "nike"})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg"}, release.ImageURLs)
}
