package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*repository.FetchOutcome
	errs      map[string]error
	requests  []repository.FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string]*repository.FetchOutcome{},
		errs:      map[string]error{},
	}
}

func (f *fakeFetcher) page(url string, status int, body string) {
	f.responses[url] = &repository.FetchOutcome{StatusCode: status, Body: []byte(body), FinalURL: url}
}

func (f *fakeFetcher) Fetch(_ context.Context, req repository.FetchRequest) (*repository.FetchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	if out, ok := f.responses[req.URL]; ok {
		return out, nil
	}
	return &repository.FetchOutcome{StatusCode: 404, FinalURL: req.URL}, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.URL)
	}
	return out
}

func chrome(t *testing.T) proxy.Profile {
	t.Helper()
	p, ok := proxy.ProfileByName("chrome120")
	require.True(t, ok)
	return p
}

func TestRunWaterfallStopsAtFirstValidStage(t *testing.T) {
	var ran []string
	stage := func(name string, res *entity.ExtractionResult, err error) Stage {
		return Stage{Name: name, Run: func(context.Context) (*entity.ExtractionResult, error) {
			ran = append(ran, name)
			return res, err
		}}
	}

	res, err := RunWaterfall(context.Background(), zap.NewNop(),
		stage("one", &entity.ExtractionResult{Title: "Phone", Price: "500"}, nil),
		stage("two", &entity.ExtractionResult{Title: "Other", Price: "1"}, nil),
		stage("three", nil, errors.New("boom")),
	)
	require.NoError(t, err)
	assert.Equal(t, "Phone", res.Title)
	assert.Equal(t, "one", res.Source)
	assert.Equal(t, []string{"one"}, ran)
}

func TestRunWaterfallSkipsInvalidAndReportsLastError(t *testing.T) {
	zeroPrice := Stage{Name: "zero", Run: func(context.Context) (*entity.ExtractionResult, error) {
		return &entity.ExtractionResult{Title: "Decoy", Price: "0"}, nil
	}}
	failing := Stage{Name: "net", Run: func(context.Context) (*entity.ExtractionResult, error) {
		return nil, entity.ErrNetwork
	}}
	empty := Stage{Name: "empty", Run: func(context.Context) (*entity.ExtractionResult, error) {
		return nil, nil
	}}

	res, err := RunWaterfall(context.Background(), zap.NewNop(), zeroPrice, failing, empty)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, entity.ErrNetwork)

	res, err = RunWaterfall(context.Background(), zap.NewNop(), zeroPrice, empty)
	assert.Nil(t, res)
	assert.NoError(t, err)
}

func TestShopeeMobileAPI(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.page("https://shopee.ph/api/v4/item/get?itemid=456&shopid=123", 200,
		`{"data":{"name":"Widget","price":12345600000}}`)

	s := NewShopee(fetcher, "", zap.NewNop())
	res, err := s.FetchAndParse(context.Background(), "https://shopee.ph/Widget-i.123.456", proxy.TierResidential, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Widget", res.Title)
	assert.Equal(t, "123456", res.Price)
	assert.Equal(t, "PHP", res.Currency)
	assert.Equal(t, "Shopee Philippines", res.Address)
	assert.Equal(t, "shopee_mobile_api", res.Source)

	// The product page is never fetched once the API wins.
	assert.Len(t, fetcher.urls(), 1)
	assert.Equal(t, "safari_ios", fetcher.requests[0].Profile.Name)
	assert.Equal(t, proxy.TierResidential, fetcher.requests[0].Tier)
}

func TestShopeeFallsBackToHTMLRegex(t *testing.T) {
	const pageURL = "https://shopee.ph/Widget-i.1.2"
	fetcher := newFakeFetcher()
	fetcher.errs["https://shopee.ph/api/v4/item/get?itemid=2&shopid=1"] = fmt.Errorf("dial: %w", entity.ErrNetwork)
	fetcher.page(pageURL, 200, `<script>window.__STATE__={"name": "Café Mug","price": 9900000000}</script>`)

	res, err := NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Café Mug", res.Title)
	assert.Equal(t, "99000", res.Price)
	assert.Equal(t, "Shopee Philippines", res.Address)
	assert.Equal(t, "shopee_html_regex", res.Source)
}

func TestShopeeJSONLDAndMetaStages(t *testing.T) {
	const pageURL = "https://shopee.ph/product/no-ids"
	fetcher := newFakeFetcher()
	fetcher.page(pageURL, 200, `<html><head>
<script type="application/ld+json">[{"@type":"Product","name":"Lamp","offers":{"price":"1,299.00","priceCurrency":"PHP"}}]</script>
</head></html>`)

	res, err := NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Lamp", res.Title)
	assert.Equal(t, "1,299.00", res.Price)
	assert.Equal(t, "Shopee Philippines", res.Address)
	assert.Equal(t, "shopee_json_ld", res.Source)
	assert.Len(t, fetcher.urls(), 1, "page is fetched once for all HTML stages")

	fetcher.page(pageURL, 200, `<html><head>
<meta property="og:title" content="Desk Fan">
<meta property="product:price:amount" content="850">
</head></html>`)
	res, err = NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Desk Fan", res.Title)
	assert.Equal(t, "850", res.Price)
	assert.Equal(t, "Shopee Philippines", res.Address)
	assert.Equal(t, "shopee_meta_tags", res.Source)
}

func TestShopeeZeroPriceDecoyIsSkipped(t *testing.T) {
	const pageURL = "https://shopee.ph/product/no-ids"
	fetcher := newFakeFetcher()
	fetcher.page(pageURL, 200, `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"Lamp","offers":{"price":"0.00"}}</script>
<meta property="og:title" content="Lamp">
<meta property="product:price:amount" content="0.0">
</head></html>`)

	res, err := NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestShopeeBlockedPage(t *testing.T) {
	const pageURL = "https://shopee.ph/Widget-i.1.2"
	fetcher := newFakeFetcher()
	fetcher.page("https://shopee.ph/api/v4/item/get?itemid=2&shopid=1", 403, `{}`)
	fetcher.page(pageURL, 200, `<html><meta property="og:title" content="Shopee"></html>`)

	res, err := NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestShopeePageTimeoutSurfaces(t *testing.T) {
	const pageURL = "https://shopee.ph/product/no-ids"
	fetcher := newFakeFetcher()
	fetcher.errs[pageURL] = fmt.Errorf("read: %w", entity.ErrTimeout)

	res, err := NewShopee(fetcher, "", zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierResidential, chrome(t))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, entity.ErrTimeout)
	assert.Len(t, fetcher.urls(), 1)
}

func TestShopeeCustomBaseURL(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.page("http://127.0.0.1:9999/api/v4/item/get?itemid=8&shopid=7", 200,
		`{"data":{"name":"Cable","price":19900000}}`)

	s := NewShopee(fetcher, "http://127.0.0.1:9999/", zap.NewNop())
	res, err := s.FetchAndParse(context.Background(), "https://shopee.ph/x-i.7.8", proxy.TierResidential, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "199", res.Price)
}

const amazonPage = `<html><body>
<span id="productTitle">  Echo Dot (5th Gen)  </span>
<span class="a-price"><span class="a-price-symbol">$</span><span class="a-price-whole">1,049.</span><span class="a-price-fraction">99</span></span>
</body></html>`

func TestAmazonParsesProductPage(t *testing.T) {
	const pageURL = "https://www.amazon.com/dp/B09B8V1LZ3"
	fetcher := newFakeFetcher()
	fetcher.page(pageURL, 200, amazonPage)

	res, err := NewAmazon(fetcher, zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Echo Dot (5th Gen)", res.Title)
	assert.Equal(t, "1049.99", res.Price)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, "Amazon Global Store", res.Address)
	assert.Equal(t, "amazon_universal_v1", res.Source)

	req := fetcher.requests[0]
	assert.Equal(t, "en-US,en;q=0.5", req.Headers["Accept-Language"])
	assert.Equal(t, "https://www.google.com/", req.Headers["Referer"])
}

func TestAmazonCurrencyAndDefaults(t *testing.T) {
	doc, err := parseHTML(`<span class="a-price-symbol">₱</span><span class="a-price-whole">2,500</span>`)
	require.NoError(t, err)
	res := parseAmazonDocument(doc)
	assert.Equal(t, "Unknown Product", res.Title)
	assert.Equal(t, "2500.00", res.Price)
	assert.Equal(t, "PHP", res.Currency)

	doc, err = parseHTML(`<span class="a-price-symbol">¥</span>`)
	require.NoError(t, err)
	res = parseAmazonDocument(doc)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, "0", res.Price)
	assert.False(t, res.IsValid())

	doc, err = parseHTML(`<span id="productTitle">Decoy</span><span class="a-price-whole">0</span>`)
	require.NoError(t, err)
	res = parseAmazonDocument(doc)
	assert.Equal(t, "0.00", res.Price)
	assert.False(t, res.IsValid())
}

func TestAmazonCaptchaAndErrors(t *testing.T) {
	const pageURL = "https://www.amazon.com/dp/X"
	fetcher := newFakeFetcher()
	fetcher.page(pageURL, 200, `<html>Enter the characters you see below. CAPTCHA</html>`)
	a := NewAmazon(fetcher, zap.NewNop())

	res, err := a.FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)

	fetcher.responses[pageURL] = &repository.FetchOutcome{StatusCode: 200, Body: []byte(amazonPage), FinalURL: "https://www.amazon.com/errors/sorry"}
	res, err = a.FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)

	fetcher.page(pageURL, 503, amazonPage)
	res, err = a.FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)

	fetcher.errs[pageURL] = fmt.Errorf("dial: %w", entity.ErrNetwork)
	_, err = a.FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	assert.ErrorIs(t, err, entity.ErrNetwork)
}

func TestGenericStages(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		title    string
		price    string
		currency string
		source   string
	}{
		{
			name:     "json-ld",
			body:     `<script type="application/ld+json">{"@type":"Product","name":"Kettle","offers":[{"price":49.5,"priceCurrency":"USD"}]}</script>`,
			title:    "Kettle",
			price:    "49.5",
			currency: "USD",
			source:   "generic_json_ld",
		},
		{
			name:   "meta",
			body:   `<meta property="og:title" content="Toaster"><meta property="product:price:amount" content="25.00">`,
			title:  "Toaster",
			price:  "25.00",
			source: "generic_meta_tags",
		},
		{
			name:     "peso text",
			body:     `<html><head><title>Store</title></head><body><h1>Rice Cooker</h1><p>Now only ₱ 1,899.00!</p></body></html>`,
			title:    "Rice Cooker",
			price:    "1899.00",
			currency: "PHP",
			source:   "generic_visible_text",
		},
		{
			name:     "dollar text",
			body:     `<html><head><meta name="title" content="Blender"></head><body>Sale $ 35.99</body></html>`,
			title:    "Blender",
			price:    "35.99",
			currency: "USD",
			source:   "generic_visible_text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const pageURL = "https://shop.example.com/item"
			fetcher := newFakeFetcher()
			fetcher.page(pageURL, 200, tt.body)

			res, err := NewGeneric(fetcher, zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tt.title, res.Title)
			assert.Equal(t, tt.price, res.Price)
			assert.Equal(t, tt.currency, res.Currency)
			assert.Equal(t, tt.source, res.Source)
		})
	}
}

func TestGenericNeverInventsAPrice(t *testing.T) {
	const pageURL = "https://shop.example.com/item"
	fetcher := newFakeFetcher()
	fetcher.page(pageURL, 200, `<html><h1>Mystery Box</h1><p>Contact us for pricing.</p><script>var price = "$ 10";</script></html>`)

	res, err := NewGeneric(fetcher, zap.NewNop()).FetchAndParse(context.Background(), pageURL, proxy.TierDatacenter, chrome(t))
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestRegistryResolve(t *testing.T) {
	fetcher := newFakeFetcher()
	r := NewDefaultRegistry(fetcher, RegistryConfig{}, zap.NewNop())

	s, err := r.Resolve("https://SHOPEE.PH/item-i.1.2")
	require.NoError(t, err)
	assert.Equal(t, "shopee", s.Name())
	assert.Equal(t, proxy.TierResidential, s.ProxyTier())

	s, err = r.Resolve("https://www.amazon.com/dp/B0")
	require.NoError(t, err)
	assert.Equal(t, "amazon", s.Name())

	_, err = r.Resolve("https://www.lazada.com.ph/products/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrUnsupportedDomain)
	var unsupported *entity.UnsupportedDomainError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "https://www.lazada.com.ph/products/x", unsupported.URL)
	assert.Empty(t, fetcher.urls(), "resolution never fetches")

	withFallback := NewDefaultRegistry(fetcher, RegistryConfig{GenericFallback: true}, zap.NewNop())
	s, err = withFallback.Resolve("https://www.lazada.com.ph/products/x")
	require.NoError(t, err)
	assert.Equal(t, "generic", s.Name())
}

func TestRegistryPriorityOrder(t *testing.T) {
	// A URL mentioning both hosts goes to the first rule.
	r := NewDefaultRegistry(newFakeFetcher(), RegistryConfig{}, zap.NewNop())
	s, err := r.Resolve("https://shopee.ph/redirect?to=amazon.com")
	require.NoError(t, err)
	assert.Equal(t, "shopee", s.Name())
}
