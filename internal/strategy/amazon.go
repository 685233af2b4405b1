package strategy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

const (
	amazonSource       = "amazon_universal_v1"
	amazonAddress      = "Amazon Global Store"
	amazonDefaultTitle = "Unknown Product"
)

var amazonCurrencies = map[string]string{
	"$":   "USD",
	"₱":   "PHP",
	"PHP": "PHP",
	"£":   "GBP",
	"€":   "EUR",
}

var amazonHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Referer":         "https://www.google.com/",
	"Device-Memory":   "8",
}

// Amazon parses the desktop product page.
type Amazon struct {
	fetcher repository.FetcherRepository
	logger  *zap.Logger
}

func NewAmazon(fetcher repository.FetcherRepository, logger *zap.Logger) *Amazon {
	return &Amazon{fetcher: fetcher, logger: logger.With(zap.String("strategy", "amazon"))}
}

func (a *Amazon) Name() string { return "amazon" }

func (a *Amazon) ProxyTier() proxy.Tier { return proxy.TierDatacenter }

func (a *Amazon) FetchAndParse(ctx context.Context, url string, tier proxy.Tier, profile proxy.Profile) (*entity.ExtractionResult, error) {
	out, err := a.fetcher.Fetch(ctx, repository.FetchRequest{
		URL:     url,
		Tier:    tier,
		Profile: profile,
		Headers: amazonHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("amazon: %w", err)
	}
	if out.StatusCode != http.StatusOK {
		a.logger.Warn("amazon returned non-200", zap.Int("status", out.StatusCode))
		return nil, nil
	}
	if isAmazonChallenge(out) {
		a.logger.Warn("amazon served a captcha page", zap.String("final_url", out.FinalURL))
		return nil, nil
	}

	doc, err := parseHTML(string(out.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrParse, err)
	}
	return parseAmazonDocument(doc), nil
}

func isAmazonChallenge(out *repository.FetchOutcome) bool {
	return strings.Contains(strings.ToLower(string(out.Body)), "captcha") ||
		strings.Contains(out.FinalURL, "sorry")
}

func parseAmazonDocument(doc *goquery.Document) *entity.ExtractionResult {
	title := strings.TrimSpace(doc.Find("#productTitle").First().Text())
	if title == "" {
		title = amazonDefaultTitle
	}

	currency := "USD"
	symbol := strings.TrimSpace(doc.Find("span.a-price-symbol").First().Text())
	if c, ok := amazonCurrencies[symbol]; ok {
		currency = c
	}

	whole := nonDigits.ReplaceAllString(doc.Find(".a-price-whole").First().Text(), "")
	fraction := nonDigits.ReplaceAllString(doc.Find(".a-price-fraction").First().Text(), "")
	if fraction == "" {
		fraction = "00"
	}
	price := "0"
	if whole != "" {
		price = whole + "." + fraction
	}

	return &entity.ExtractionResult{
		Title:    title,
		Price:    price,
		Currency: currency,
		Address:  amazonAddress,
		Source:   amazonSource,
	}
}
