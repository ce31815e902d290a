package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPService_PriceLookupIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/v1/prices/1/native":
			_, _ = w.Write([]byte(`{"usd": 2500.5}`))
		case "/v1/prices/1/0x0000000000000000000000000000000000007070":
			_, _ = w.Write([]byte(`{"data": {"usd": "0.999"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := NewHTTPService(Config{Endpoint: srv.URL + "/", RatePerSecond: 100, CacheTTL: time.Minute})
	ctx := context.Background()

	usd, err := svc.NativePriceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "2500.500000000000000000", usd.String())

	_, err = svc.NativePriceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup should hit the cache")

	usd, err = svc.PriceOf(ctx, 1, common.HexToAddress("0x7070"))
	require.NoError(t, err)
	assert.Equal(t, "0.999000000000000000", usd.String())

	_, err = svc.NativePriceOf(ctx, 2)
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "number", body: `{"usd": 1.5}`, want: "1.500000000000000000"},
		{name: "string", body: `{"usd": "42"}`, want: "42.000000000000000000"},
		{name: "nested", body: `{"data": {"usd": 3}}`, want: "3.000000000000000000"},
		{name: "missing", body: `{"eur": 1}`, wantErr: true},
		{name: "negative", body: `{"usd": -1}`, wantErr: true},
		{name: "garbage", body: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePrice([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
