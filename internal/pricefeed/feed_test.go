package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gold_tally/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_PerGram(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"usd_per_gram": "95.00"}`)
	rate, err := NewHTTPSource(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.USDPerGram.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, srv.URL, rate.Source)
}

func TestHTTPSource_PerOunce(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"usd_per_ounce": 2954.83}`)
	rate, err := NewHTTPSource(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "94.999990", rate.USDPerGram.StringFixed(6))
}

func TestHTTPSource_Errors(t *testing.T) {
	bad := serve(t, http.StatusBadGateway, "upstream down")
	_, err := NewHTTPSource(bad.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	empty := serve(t, http.StatusOK, `{}`)
	_, err = NewHTTPSource(empty.URL).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)

	zero := serve(t, http.StatusOK, `{"usd_per_gram": 0}`)
	_, err = NewHTTPSource(zero.URL).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

type countingSource struct {
	calls int32
	price decimal.Decimal
	err   error
}

func (c *countingSource) Fetch(context.Context) (Rate, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return Rate{}, c.err
	}
	return Rate{USDPerGram: c.price, Source: "test", FetchedAt: time.Now()}, nil
}

func TestService_SpotServesFreshQuote(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(95)}
	svc := NewService(src, nil, time.Hour, nil)

	for i := 0; i < 3; i++ {
		rate, err := svc.Spot(context.Background())
		require.NoError(t, err)
		assert.True(t, rate.USDPerGram.Equal(decimal.NewFromInt(95)))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestService_SharesThroughCache(t *testing.T) {
	cache := utils.NewMemoryCache()
	first := NewService(&countingSource{price: decimal.NewFromInt(96)}, cache, time.Hour, nil)
	_, err := first.Refresh(context.Background())
	require.NoError(t, err)

	src := &countingSource{price: decimal.NewFromInt(1)}
	second := NewService(src, cache, time.Hour, nil)
	rate, err := second.Spot(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.USDPerGram.Equal(decimal.NewFromInt(96)))
	assert.Zero(t, atomic.LoadInt32(&src.calls))
}

func TestService_RefreshFailureKeepsLastQuote(t *testing.T) {
	logger, hook := test.NewNullLogger()
	src := &countingSource{price: decimal.NewFromInt(95)}
	svc := NewService(src, nil, time.Hour, logger)
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	src.err = errors.New("timeout")
	_, err = svc.Refresh(context.Background())
	require.Error(t, err)

	rate, err := svc.Spot(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.USDPerGram.Equal(decimal.NewFromInt(95)))
	assert.Empty(t, hook.AllEntries())
}

func TestService_RunLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	svc := NewService(&countingSource{err: errors.New("down")}, nil, time.Hour, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	svc.Run(ctx, 10*time.Millisecond)

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestStatic(t *testing.T) {
	rate, err := Static{Price: decimal.NewFromInt(95)}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", rate.Source)

	_, err = Static{}.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}
