package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

type pricePattern struct {
	re       *regexp.Regexp
	currency string
}

var genericPricePatterns = []pricePattern{
	{regexp.MustCompile(`(?:₱|PHP|P)\s?([\d,]+(?:\.\d{2})?)`), "PHP"},
	{regexp.MustCompile(`\$\s?([\d,]+(?:\.\d{2})?)`), "USD"},
	{regexp.MustCompile(`price["']:\s?([\d.]+)`), ""},
}

// Generic is the best-effort fallback for sites without a dedicated strategy.
// It never invents a price; a page with no recognizable price yields nil.
type Generic struct {
	fetcher repository.FetcherRepository
	logger  *zap.Logger
}

func NewGeneric(fetcher repository.FetcherRepository, logger *zap.Logger) *Generic {
	return &Generic{fetcher: fetcher, logger: logger.With(zap.String("strategy", "generic"))}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) ProxyTier() proxy.Tier { return proxy.TierDatacenter }

func (g *Generic) FetchAndParse(ctx context.Context, url string, tier proxy.Tier, profile proxy.Profile) (*entity.ExtractionResult, error) {
	page := newPageLoader(g.fetcher, repository.FetchRequest{URL: url, Tier: tier, Profile: profile})

	var doc *goquery.Document
	document := func(ctx context.Context) (*goquery.Document, error) {
		if doc != nil {
			return doc, nil
		}
		html, err := page.html(ctx)
		if err != nil || html == "" {
			return nil, err
		}
		d, err := parseHTML(html)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrParse, err)
		}
		doc = d
		return doc, nil
	}

	return RunWaterfall(ctx, g.logger,
		Stage{Name: "generic_json_ld", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			d, err := document(ctx)
			if err != nil || d == nil {
				return nil, err
			}
			return jsonLDProduct(d, ""), nil
		}},
		Stage{Name: "generic_meta_tags", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			d, err := document(ctx)
			if err != nil || d == nil {
				return nil, err
			}
			return metaProduct(d, ""), nil
		}},
		Stage{Name: "generic_visible_text", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			d, err := document(ctx)
			if err != nil || d == nil {
				return nil, err
			}
			return genericFromText(d), nil
		}},
	)
}

func genericTitle(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="title"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, sel := range []string{"h1", "title"} {
		if v := strings.TrimSpace(doc.Find(sel).First().Text()); v != "" {
			return v
		}
	}
	return ""
}

func genericFromText(doc *goquery.Document) *entity.ExtractionResult {
	title := genericTitle(doc)
	if title == "" {
		return nil
	}
	text := visibleText(doc)
	for _, p := range genericPricePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		price := strings.ReplaceAll(m[1], ",", "")
		if strings.Trim(price, "0.") == "" {
			continue
		}
		return &entity.ExtractionResult{Title: title, Price: price, Currency: p.currency}
	}
	return nil
}
