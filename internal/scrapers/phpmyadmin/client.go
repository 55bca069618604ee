// client.go contains the http plumbing shared by every request made to the
// phpmyadmin console.

package phpmyadmin

import (
	"fmt"
	"net/url"
	"pmaexport/internal/components/assert"
	"pmaexport/internal/components/restyutil"
	"pmaexport/internal/components/telemetry"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_session = "client.session"
	report_client_tables  = "client.tables"
	report_client_export  = "client.export"
)

const (
	DefaultLang              = "ja"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 2
	DefaultBurst             = 2
)

type ClientOptions struct {
	// BaseUrl is where the console is served from, ex. http://db.internal/phpmyadmin
	BaseUrl string
	// Lang is sent as the pma_lang cookie when acquiring a session.
	Lang string
	// Timeout applies to each request, not to the whole export.
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// CloudflareBypass makes requests look like they come from a browser,
	// for consoles fronted by cloudflare.
	CloudflareBypass bool
	// Extractor defaults to ScriptExtractor.
	Extractor Extractor
	// HttpDump, if set, receives a redacted copy of every request and response.
	HttpDump restyutil.Output
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	lang      string
	extractor Extractor
	tel       telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("phpmyadmin", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("phpmyadmin: parse base url: %w", err)
	}
	if baseUrl.Scheme != "http" && baseUrl.Scheme != "https" {
		return nil, fmt.Errorf("phpmyadmin: base url %q must be http or https", opts.BaseUrl)
	}
	if opts.Lang == "" {
		opts.Lang = DefaultLang
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Extractor == nil {
		opts.Extractor = ScriptExtractor{}
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	// the session is passed explicitly to each request, nothing is remembered
	httpClient.SetCookieJar(nil)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	httpClient.SetTimeout(opts.Timeout)

	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	if opts.HttpDump != nil {
		restyutil.Dump(httpClient, opts.HttpDump)
	}

	return &Client{
		BaseUrl:   baseUrl,
		Http:      httpClient,
		lang:      opts.Lang,
		extractor: opts.Extractor,
		tel:       tel,
	}, nil
}
