package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func (r *RedisCache) SetPrices(ctx context.Context, prices []priceModel.PriceInfo) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetPrices start", slog.String("rqID", rqID))

	pipe := r.redis.Pipeline()
	for _, price := range prices {
		priceJson, err := json.Marshal(price)
		if err != nil {
			slog.Error(
				"can't marshall price in SetPrices",
				slog.String("rqID", rqID),
				slog.String("err", err.Error()),
				slog.Any("price", price),
			)
			return errors.New("can't marshall price")
		}

		_, err = pipe.Set(ctx, price.Ticker, priceJson, r.cfg.Cache.PricesExpiration).Result()
		if err != nil {
			slog.Error(
				"failed on pipe.Set",
				slog.String("rqID", rqID),
				slog.String("err", err.Error()),
				slog.Any("price", price),
			)
			return err
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("SetPrices completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) SetPrice(ctx context.Context, price priceModel.PriceInfo) error {
	return r.SetPrices(ctx, []priceModel.PriceInfo{price})
}

func (r *RedisCache) GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetPrice start", slog.String("rqID", rqID))

	res, err := r.redis.Get(ctx, ticker).Result()
	if err != nil {
		slog.Warn("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", ticker))
		return priceModel.PriceInfo{}, err
	}

	priceInfo := priceModel.PriceInfo{}
	err = json.Unmarshal([]byte(res), &priceInfo)
	if err != nil {
		slog.Error(
			"can't unmarshall price in GetPrice",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return priceModel.PriceInfo{}, errors.New("can't unmarshall price")
	}

	slog.Debug("GetPrice finished", slog.String("rqID", rqID))

	return priceInfo, nil
}
