// Package price provides the USD price service client.
package price

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config configures an HTTPService.
type Config struct {
	// Endpoint is the base URL, e.g. https://prices.example.org.
	Endpoint      string
	RatePerSecond float64
	CacheTTL      time.Duration
	CacheSize     int
	Timeout       time.Duration
}

// HTTPService looks up USD prices over HTTP. Results are cached for
// CacheTTL and requests are rate limited.
type HTTPService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	cache    *expirable.LRU[string, math.LegacyDec]
	logger   *slog.Logger
}

// NewHTTPService creates a price service client.
func NewHTTPService(cfg Config) *HTTPService {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPService{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cache:    expirable.NewLRU[string, math.LegacyDec](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger.
func (s *HTTPService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// PriceOf returns the USD price of one whole unit of asset on chainID.
func (s *HTTPService) PriceOf(ctx context.Context, chainID int64, asset common.Address) (math.LegacyDec, error) {
	return s.lookup(ctx, fmt.Sprintf("%d/%s", chainID, strings.ToLower(asset.Hex())))
}

// NativePriceOf returns the USD price of chainID's native currency.
func (s *HTTPService) NativePriceOf(ctx context.Context, chainID int64) (math.LegacyDec, error) {
	return s.lookup(ctx, fmt.Sprintf("%d/native", chainID))
}

func (s *HTTPService) lookup(ctx context.Context, path string) (math.LegacyDec, error) {
	if usd, ok := s.cache.Get(path); ok {
		return usd, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return math.LegacyDec{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/v1/prices/"+path, nil)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return math.LegacyDec{}, fmt.Errorf("price service returned %s", resp.Status)
	}

	usd, err := parsePrice(body)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("price for %s: %w", path, err)
	}

	s.cache.Add(path, usd)
	s.logger.Debug("price fetched", "path", path, "usd", usd.String())
	return usd, nil
}

// parsePrice reads the usd field, accepting either a number or a string.
func parsePrice(body []byte) (math.LegacyDec, error) {
	if !gjson.ValidBytes(body) {
		return math.LegacyDec{}, fmt.Errorf("invalid JSON response")
	}
	field := gjson.GetBytes(body, "usd")
	if !field.Exists() {
		field = gjson.GetBytes(body, "data.usd")
	}
	if !field.Exists() {
		return math.LegacyDec{}, fmt.Errorf("no usd price in response")
	}
	raw := field.String()
	if field.Type == gjson.Number {
		raw = field.Raw
	}
	usd, err := math.LegacyNewDecFromStr(raw)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("invalid usd price %q: %w", raw, err)
	}
	if usd.IsNegative() {
		return math.LegacyDec{}, fmt.Errorf("negative usd price %s", usd)
	}
	return usd, nil
}
