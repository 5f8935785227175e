package normalizer

import (
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"release-tracker/internal/util"
)

// defaultAliases seed the table when no config file is present. Keys are
// lowercased alias tokens matched against the raw brand string.
var defaultAliases = map[string]string{
	"nike":        "Nike",
	"nike inc.":   "Nike",
	"air jordan":  "Nike",
	"jordan":      "Nike",
	"adidas":      "Adidas",
	"yeezy":       "Adidas",
	"new balance": "New Balance",
	"asics":       "ASICS",
	"reebok":      "Reebok",
	"puma":        "Puma",
	"vans":        "Vans",
	"converse":    "Converse",
}

// BrandTable maps raw brand strings to canonical brand names. The table is
// loaded from a YAML file and can be reloaded at runtime without restarting
// the pipeline.
type BrandTable struct {
	mu      sync.RWMutex
	path    string
	aliases map[string]string
	logger  *zap.Logger
}

type brandFile struct {
	Brands map[string][]string `yaml:"brands"`
}

// NewBrandTable creates a table seeded with the default aliases and, when the
// file exists, overlaid with the configured ones.
func NewBrandTable(path string) *BrandTable {
	t := &BrandTable{
		path:    path,
		aliases: make(map[string]string, len(defaultAliases)),
		logger:  util.GetLogger(),
	}
	for k, v := range defaultAliases {
		t.aliases[k] = v
	}
	if path != "" {
		if err := t.Reload(); err != nil {
			t.logger.Warn("Brand alias config not loaded, using defaults",
				zap.String("path", path),
				zap.Error(err))
		}
	}
	return t
}

// Reload re-reads the alias file and swaps the table in one step.
func (t *BrandTable) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}

	var f brandFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	aliases := make(map[string]string, len(defaultAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for canonical, raws := range f.Brands {
		for _, raw := range raws {
			aliases[strings.ToLower(strings.TrimSpace(raw))] = canonical
		}
	}

	t.mu.Lock()
	t.aliases = aliases
	t.mu.Unlock()

	t.logger.Info("Brand alias table loaded",
		zap.String("path", t.path),
		zap.Int("aliases", len(aliases)))
	return nil
}

// Canonical resolves a raw brand string to its canonical form. Unknown brands
// pass through title-cased.
func (t *BrandTable) Canonical(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if cleaned == "" {
		return "Unknown"
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if canonical, ok := t.aliases[cleaned]; ok {
		return canonical
	}
	// substring match catches compound titles like "Air Jordan 1 Retro"
	for alias, canonical := range t.aliases {
		if strings.Contains(cleaned, alias) {
			return canonical
		}
	}
	return titleCase(cleaned)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
