package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// RateProvider supplies the pico-USD-per-asset-base-unit rate used to
// convert billed USD cost into asset cost (spec §3 Cost, §4.9 settle).
type RateProvider interface {
	RateFor(ctx context.Context, assetID string) (*big.Int, error)
}

// HTTPRateProvider fetches rates from an HTTP endpoint, following the
// teacher's context-timeout-plus-zap-logging GET idiom
// (pkg/storage/lighthouse.go GetLighthouseFileCtx).
type HTTPRateProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRateProvider constructs a provider that issues
// "GET {endpoint}?asset=<assetID>" requests expecting a JSON body of the
// form {"picoUsdPerUnit": "<decimal string>"}.
func NewHTTPRateProvider(endpoint string, timeout time.Duration) *HTTPRateProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRateProvider{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPRateProvider) RateFor(ctx context.Context, assetID string) (*big.Int, error) {
	url := fmt.Sprintf("%s?asset=%s", p.endpoint, assetID)
	zap.L().Debug("fetching asset rate", zap.String("asset", assetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.RateNotAvailable, "build rate request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.RateNotAvailable, "rate request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, errs.New(errs.RateNotAvailable, fmt.Sprintf("rate GET %s: status %d: %s", url, resp.StatusCode, string(b)))
	}

	var body struct {
		PicoUSDPerUnit string `json:"picoUsdPerUnit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.RateNotAvailable, "decode rate response", err)
	}

	rate, ok := new(big.Int).SetString(body.PicoUSDPerUnit, 10)
	if !ok {
		return nil, errs.New(errs.RateNotAvailable, "malformed rate value: "+body.PicoUSDPerUnit)
	}
	return rate, nil
}

var _ RateProvider = (*HTTPRateProvider)(nil)

// StaticRateProvider returns a fixed rate for every asset; useful for
// tests and for deployments with a single pegged asset.
type StaticRateProvider struct {
	Rate *big.Int
}

func (p *StaticRateProvider) RateFor(_ context.Context, _ string) (*big.Int, error) {
	if p.Rate == nil {
		return nil, errs.New(errs.RateNotAvailable, "no static rate configured")
	}
	return p.Rate, nil
}

var _ RateProvider = (*StaticRateProvider)(nil)
