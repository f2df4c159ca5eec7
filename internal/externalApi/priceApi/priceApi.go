package priceApi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/internal/externalApi"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
)

type PriceApi struct {
	client *resty.Client
}

type rawQuote struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

type rawQuotesResponse struct {
	Quotes []rawQuote `json:"quotes"`
}

func New(cfg *config.Config) *PriceApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.PriceApi.Url)
	return &PriceApi{client: client}
}

func (a *PriceApi) GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error) {
	prices, err := a.GetPrices(ctx, []string{ticker})
	if err != nil {
		return priceModel.PriceInfo{}, err
	}

	price, ok := prices[ticker]
	if !ok {
		return priceModel.PriceInfo{}, externalApi.ErrNotFound
	}

	return price, nil
}

func (a *PriceApi) GetPrices(ctx context.Context, tickers []string) (map[string]priceModel.PriceInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	url := "/v1/quotes"
	params := map[string]string{
		"symbols": strings.Join(tickers, ","),
	}

	slog.Debug("start PriceApi.GetPrices request", slog.String("rqID", rqID), slog.Any("tickers", tickers))

	resp, err := a.client.R().
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		SetContext(ctx).
		Get(url)

	if err != nil {
		slog.Error("error while dialing PriceApi", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return nil, err
	}

	rawQuotes := rawQuotesResponse{}
	err = json.Unmarshal(resp.Body(), &rawQuotes)
	if err != nil {
		slog.Error("can't unmarshall response into rawQuotesResponse", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return nil, err
	}

	res := make(map[string]priceModel.PriceInfo, len(rawQuotes.Quotes))
	now := time.Now()
	for _, quote := range rawQuotes.Quotes {
		if quote.Symbol == "" || quote.Price.IsZero() {
			continue
		}
		res[quote.Symbol] = priceModel.PriceInfo{
			Ticker:    quote.Symbol,
			Price:     quote.Price,
			Currency:  quote.Currency,
			UpdatedAt: now,
		}
	}

	slog.Debug("PriceApi.GetPrices request complete", slog.String("rqID", rqID), slog.Int("quotes", len(res)))

	return res, nil
}
