package entity

import "strings"

// ExtractionResult is the structured product data a strategy pulls out of a page.
// Price stays a string so source formatting ("75,990", "19.99") survives.
type ExtractionResult struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Currency string `json:"currency,omitempty"`
	Address  string `json:"address,omitempty"`
	Source   string `json:"source,omitempty"`
}

// HasPrice reports whether the price carries a nonzero amount. Blocking sites
// serve a zero decoy ("0", "0.00", "0,00") instead of a real product, and
// separators or currency marks around the digits do not change that.
func (r *ExtractionResult) HasPrice() bool {
	if r == nil {
		return false
	}
	for _, c := range r.Price {
		if c >= '1' && c <= '9' {
			return true
		}
	}
	return false
}

// IsValid reports whether the result carries both a title and a usable price.
func (r *ExtractionResult) IsValid() bool {
	return r != nil && strings.TrimSpace(r.Title) != "" && r.HasPrice()
}
