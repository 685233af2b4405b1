package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

const (
	defaultShopeeBaseURL = "https://shopee.ph"
	shopeeCurrency       = "PHP"
	shopeeAddress        = "Shopee Philippines"
	shopeeAPIProfile     = "safari_ios"
)

var (
	shopeeIDPattern     = regexp.MustCompile(`i\.(\d+)\.(\d+)`)
	shopeeNamePattern   = regexp.MustCompile(`"name":\s*"(.*?)"`)
	shopeePricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"price":\s*(\d{9,12})`),
		regexp.MustCompile(`item_price":\s*(\d{9,12})`),
		regexp.MustCompile(`"price_min":\s*(\d{9,12})`),
	}
)

// Shopee reads the mobile item API first and falls back to the product page.
type Shopee struct {
	fetcher repository.FetcherRepository
	baseURL string
	logger  *zap.Logger
}

// NewShopee builds the Shopee strategy. An empty baseURL means the public site.
func NewShopee(fetcher repository.FetcherRepository, baseURL string, logger *zap.Logger) *Shopee {
	if baseURL == "" {
		baseURL = defaultShopeeBaseURL
	}
	return &Shopee{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(zap.String("strategy", "shopee")),
	}
}

func (s *Shopee) Name() string { return "shopee" }

// ProxyTier is residential: Shopee blocks datacenter ranges outright.
func (s *Shopee) ProxyTier() proxy.Tier { return proxy.TierResidential }

func (s *Shopee) FetchAndParse(ctx context.Context, url string, tier proxy.Tier, profile proxy.Profile) (*entity.ExtractionResult, error) {
	page := newPageLoader(s.fetcher, repository.FetchRequest{
		URL:     url,
		Tier:    tier,
		Profile: profile,
		Headers: map[string]string{"Referer": s.baseURL + "/"},
	})

	stages := []Stage{}
	if itemID, shopID, ok := shopeeIDs(url); ok {
		stages = append(stages, Stage{Name: "shopee_mobile_api", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			return s.fromAPI(ctx, itemID, shopID, tier)
		}})
	}
	stages = append(stages,
		Stage{Name: "shopee_html_regex", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			html, err := page.html(ctx)
			if err != nil || html == "" {
				return nil, err
			}
			return shopeeFromRegex(html), nil
		}},
		Stage{Name: "shopee_json_ld", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			doc, err := s.document(ctx, page)
			if err != nil || doc == nil {
				return nil, err
			}
			return withShopeeAddress(jsonLDProduct(doc, shopeeCurrency)), nil
		}},
		Stage{Name: "shopee_meta_tags", Run: func(ctx context.Context) (*entity.ExtractionResult, error) {
			doc, err := s.document(ctx, page)
			if err != nil || doc == nil {
				return nil, err
			}
			return withShopeeAddress(metaProduct(doc, shopeeCurrency)), nil
		}},
	)
	return RunWaterfall(ctx, s.logger, stages...)
}

func (s *Shopee) fromAPI(ctx context.Context, itemID, shopID string, tier proxy.Tier) (*entity.ExtractionResult, error) {
	profile, _ := proxy.ProfileByName(shopeeAPIProfile)
	out, err := s.fetcher.Fetch(ctx, repository.FetchRequest{
		URL:     fmt.Sprintf("%s/api/v4/item/get?itemid=%s&shopid=%s", s.baseURL, itemID, shopID),
		Tier:    tier,
		Profile: profile,
		Headers: map[string]string{
			"Accept":            "application/json",
			"Referer":           s.baseURL + "/",
			"Origin":            s.baseURL,
			"X-Shopee-Language": "en",
			"X-Requested-With":  "XMLHttpRequest",
			"Sec-Fetch-Site":    "same-origin",
			"Sec-Fetch-Mode":    "cors",
			"Sec-Fetch-Dest":    "empty",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shopee api: %w", err)
	}
	if out.StatusCode != http.StatusOK {
		s.logger.Debug("shopee api refused", zap.Int("status", out.StatusCode))
		return nil, nil
	}
	return parseShopeeAPI(out.Body), nil
}

func (s *Shopee) document(ctx context.Context, page *pageLoader) (*goquery.Document, error) {
	html, err := page.html(ctx)
	if err != nil || html == "" {
		return nil, err
	}
	doc, err := parseHTML(html)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrParse, err)
	}
	return doc, nil
}

func shopeeIDs(url string) (itemID, shopID string, ok bool) {
	m := shopeeIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	// Product URLs carry i.{shop}.{item}.
	return m[2], m[1], true
}

type shopeeItemResponse struct {
	Data *struct {
		Name  string      `json:"name"`
		Price json.Number `json:"price"`
	} `json:"data"`
}

func parseShopeeAPI(body []byte) *entity.ExtractionResult {
	var resp shopeeItemResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil
	}
	price, ok := scaledPrice(resp.Data.Price.String())
	if !ok {
		return nil
	}
	return &entity.ExtractionResult{
		Title:    strings.TrimSpace(resp.Data.Name),
		Price:    price,
		Currency: shopeeCurrency,
		Address:  shopeeAddress,
	}
}

func shopeeFromRegex(html string) *entity.ExtractionResult {
	var price string
	for _, re := range shopeePricePatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			if p, ok := scaledPrice(m[1]); ok {
				price = p
				break
			}
		}
	}
	if price == "" {
		return nil
	}
	title := ""
	if m := shopeeNamePattern.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(unescapeJSONString(m[1]))
	}
	return &entity.ExtractionResult{Title: title, Price: price, Currency: shopeeCurrency, Address: shopeeAddress}
}

func withShopeeAddress(res *entity.ExtractionResult) *entity.ExtractionResult {
	if res != nil && res.Address == "" {
		res.Address = shopeeAddress
	}
	return res
}
