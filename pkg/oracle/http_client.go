package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClient is a resty-backed Client for an exchange-rate HTTP gateway
// fronting the oracle (the on-chain deployment's analogue of calling the
// exchange-rate canister directly).
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient builds a Client against baseURL with a short timeout and a
// small retry budget against 5xx responses; a funding cycle that can't
// resolve a rate skips rather than blocks.
func NewHTTPClient(baseURL string) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &HTTPClient{http: client}
}

type exchangeRateResponse struct {
	Rate     uint64 `json:"rate"`
	Decimals uint32 `json:"decimals"`
}

// GetExchangeRate implements Client.
func (c *HTTPClient) GetExchangeRate(ctx context.Context, base, quote string, timestamp *time.Time) (Rate, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("base", base).
		SetQueryParam("quote", quote)
	if timestamp != nil {
		req.SetQueryParam("timestamp", fmt.Sprintf("%d", timestamp.Unix()))
	}

	var result exchangeRateResponse
	resp, err := req.SetResult(&result).Get("/exchange_rate")
	if err != nil {
		return Rate{}, fmt.Errorf("get exchange rate: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Rate{}, fmt.Errorf("get exchange rate: status %d: %s", resp.StatusCode(), resp.String())
	}

	return Rate{Value: result.Rate, Decimals: result.Decimals}, nil
}
