package model

import "strings"

// Category classifies a portfolio.
type Category string

const (
	CategoryDesign      Category = "design"
	CategoryDevelopment Category = "development"
	CategoryMarketing   Category = "marketing"
	CategoryBusiness    Category = "business"
	CategoryArt         Category = "art"
	CategoryEngineering Category = "engineering"
	CategoryScience     Category = "science"
	CategoryOther       Category = "other"

	// CategoryAll is a feed filter only; it is never stored on a portfolio.
	CategoryAll Category = "all"
)

// Categories lists every storable category in display order.
var Categories = []Category{
	CategoryDesign,
	CategoryDevelopment,
	CategoryMarketing,
	CategoryBusiness,
	CategoryArt,
	CategoryEngineering,
	CategoryScience,
	CategoryOther,
}

// Korean display labels used by the web client's filter bar.
var categoryLabels = map[string]Category{
	"전체":   CategoryAll,
	"디자인":  CategoryDesign,
	"개발":   CategoryDevelopment,
	"마케팅":  CategoryMarketing,
	"비즈니스": CategoryBusiness,
	"예술":   CategoryArt,
	"공학":   CategoryEngineering,
	"과학":   CategoryScience,
	"기타":   CategoryOther,
}

// Valid reports whether c is a storable category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory resolves a stored category from its value or display label.
// The legacy edit form wrote "etc" for the other bucket, so it is accepted too.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if c, ok := categoryLabels[s]; ok && c != CategoryAll {
		return c, nil
	}
	c := Category(strings.ToLower(s))
	if c == "etc" {
		return CategoryOther, nil
	}
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// ParseFilter resolves a feed filter: any category, or "all".
// An empty string means "all".
func ParseFilter(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(CategoryAll)) {
		return CategoryAll, nil
	}
	if c, ok := categoryLabels[s]; ok {
		return c, nil
	}
	return ParseCategory(s)
}
