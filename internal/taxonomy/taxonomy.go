// Package taxonomy holds the PSD2 keyword categories and API-indicating URL
// patterns used to score pages.
package taxonomy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category names of the built-in taxonomy.
const (
	General   = "general"
	AIS       = "ais"
	PIS       = "pis"
	CAF       = "caf"
	Technical = "technical"
)

// Category is a named, ordered set of keyword phrases.
type Category struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Taxonomy is an immutable keyword taxonomy. The zero value matches nothing.
type Taxonomy struct {
	categories []Category
	lowered    [][]string
	patterns   []string
	compiled   []*regexp.Regexp
}

// File is the on-disk YAML layout of a taxonomy.
type File struct {
	Categories  []Category `yaml:"categories"`
	URLPatterns []string   `yaml:"url_patterns"`
}

var defaultCategories = []Category{
	{Name: General, Keywords: []string{
		"psd2", "open banking", "openbanking", "api portal", "developer portal",
		"api documentation", "api sandbox", "tpp", "third party provider",
		"berlin group", "nextgenPSD2", "stet", "open bank project",
		"oauth", "oauth2", "openid connect", "client credentials",
		"xs2a", "access to account",
	}},
	{Name: AIS, Keywords: []string{
		"account information", "ais api", "account access", "balance",
		"transaction history", "account list", "aisp",
		"account information service", "read account", "get accounts",
		"/accounts", "/balances", "/transactions",
	}},
	{Name: PIS, Keywords: []string{
		"payment initiation", "pis api", "pisp", "initiate payment",
		"payment service", "sepa payment", "instant payment", "bulk payment",
		"payment submission", "/payments", "/payment-initiations",
		"domestic payment", "international payment",
	}},
	{Name: CAF, Keywords: []string{
		"confirmation of funds", "caf api", "funds confirmation", "piis",
		"card based payment", "fundsconfirmation", "/funds-confirmations",
		"available funds",
	}},
	{Name: Technical, Keywords: []string{
		"swagger", "openapi", "api specification", "rest api", "json api",
		"postman", "api reference", "api explorer", "try it out",
		"sandbox environment", "test environment", "production api",
	}},
}

var defaultURLPatterns = []string{
	`/api`, `/developer`, `/openbanking`, `/psd2`, `/portal`, `/documentation`,
	`/docs`, `/swagger`, `/sandbox`, `/tpp`, `/xs2a`, `/oauth`,
}

var defaultTaxonomy = mustNew(defaultCategories, defaultURLPatterns)

// Default returns the built-in PSD2 taxonomy.
func Default() *Taxonomy {
	return defaultTaxonomy
}

// New builds a taxonomy from ordered categories and URL regular expressions.
// Inputs are copied; later changes to them do not affect the taxonomy.
func New(categories []Category, urlPatterns []string) (*Taxonomy, error) {
	t := &Taxonomy{}
	seen := make(map[string]bool, len(categories))

	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("taxonomy: category name cannot be empty")
		}
		if seen[name] {
			return nil, fmt.Errorf("taxonomy: duplicate category %q", name)
		}
		seen[name] = true

		kws := make([]string, 0, len(c.Keywords))
		low := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			if strings.TrimSpace(kw) == "" {
				continue
			}
			kws = append(kws, kw)
			low = append(low, strings.ToLower(kw))
		}
		t.categories = append(t.categories, Category{Name: name, Keywords: kws})
		t.lowered = append(t.lowered, low)
	}

	for _, p := range urlPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: invalid url pattern %q: %w", p, err)
		}
		t.patterns = append(t.patterns, p)
		t.compiled = append(t.compiled, re)
	}

	return t, nil
}

func mustNew(categories []Category, urlPatterns []string) *Taxonomy {
	t, err := New(categories, urlPatterns)
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a taxonomy from a YAML file.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taxonomy: decode: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy: no categories defined")
	}
	return New(f.Categories, f.URLPatterns)
}

// Marshal encodes the taxonomy as YAML in the layout Parse accepts.
func (t *Taxonomy) Marshal() ([]byte, error) {
	return yaml.Marshal(File{Categories: t.Categories(), URLPatterns: t.URLPatterns()})
}

// Categories returns a copy of the categories in order.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = Category{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	return out
}

// URLPatterns returns a copy of the URL pattern sources.
func (t *Taxonomy) URLPatterns() []string {
	return append([]string(nil), t.patterns...)
}

// Match returns a "<category>:<keyword>" tag for every keyword contained in
// text, in taxonomy order. Matching is case-insensitive; tags keep the
// keyword as configured.
func (t *Taxonomy) Match(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for i, c := range t.categories {
		for j, kw := range t.lowered[i] {
			if strings.Contains(lower, kw) {
				tags = append(tags, Tag(c.Name, c.Keywords[j]))
			}
		}
	}
	return tags
}

// IsAPIRelatedURL reports whether the lower-cased URL matches any URL pattern.
func (t *Taxonomy) IsAPIRelatedURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, re := range t.compiled {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Tag formats a keyword hit.
func Tag(category, keyword string) string {
	return category + ":" + keyword
}

// SplitTag splits a keyword hit into category and keyword.
func SplitTag(tag string) (category, keyword string, ok bool) {
	return strings.Cut(tag, ":")
}
