package strategy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/nexus-ingest/internal/entity"
)

var nonDigits = regexp.MustCompile(`[^\d]`)

func parseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// jsonLDProduct returns the first JSON-LD block that describes a product.
func jsonLDProduct(doc *goquery.Document, defaultCurrency string) *entity.ExtractionResult {
	var found *entity.ExtractionResult
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		obj := decodeJSONLD(s.Text())
		if obj == nil {
			return true
		}
		offers, hasOffers := obj["offers"]
		if !hasOffers && asString(obj["@type"]) != "Product" {
			return true
		}
		offer := firstObject(offers)
		price := asString(offer["price"])
		if price == "" {
			price = "0"
		}
		currency := asString(offer["priceCurrency"])
		if currency == "" {
			currency = defaultCurrency
		}
		found = &entity.ExtractionResult{
			Title:    strings.TrimSpace(asString(obj["name"])),
			Price:    price,
			Currency: currency,
		}
		return false
	})
	return found
}

// metaProduct reads Open Graph and product meta tags.
func metaProduct(doc *goquery.Document, defaultCurrency string) *entity.ExtractionResult {
	title, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if !ok {
		return nil
	}
	price, ok := doc.Find(`meta[property="product:price:amount"]`).First().Attr("content")
	if !ok || strings.TrimSpace(price) == "" {
		price = "0"
	}
	currency, ok := doc.Find(`meta[property="product:price:currency"]`).First().Attr("content")
	if !ok || currency == "" {
		currency = defaultCurrency
	}
	return &entity.ExtractionResult{
		Title:    strings.TrimSpace(title),
		Price:    strings.TrimSpace(price),
		Currency: currency,
	}
}

func decodeJSONLD(raw string) map[string]any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return firstObject(v)
}

// firstObject unwraps a JSON object or the first object of a JSON array.
func firstObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m
			}
		}
	}
	return map[string]any{}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// unescapeJSONString decodes \uXXXX style escapes captured out of raw JSON text.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// scaledPrice converts an integer price in 1/100000 units into whole units,
// truncating like the source platform does.
func scaledPrice(raw string) (string, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.FormatInt(n/100000, 10), true
}

func visibleText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript").Remove()
	return clone.Text()
}
