package cache

import (
	"context"
	"testing"
	"time"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSetPrices_ExecFailureReturnsError(t *testing.T) {
	// port 1 is never listening, so the pipeline flush fails on connect
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewRedisCache(client, &config.Config{})

	err := c.SetPrices(context.Background(), []priceModel.PriceInfo{
		{Ticker: "AAPL", Price: decimal.NewFromInt(100), Currency: "USD", UpdatedAt: time.Now()},
	})

	assert.Error(t, err)
}
