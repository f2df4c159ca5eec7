package lotService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarev/lot_ledger/internal/converter/dbConverter"
	"github.com/mkarev/lot_ledger/internal/externalApi"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
)

// ListSalesForLot returns every SELL that consumed the given BUY lot, with
// realized P/L derived from the parent's current price.
func (s *LotService) ListSalesForLot(ctx context.Context, buyLotID, accountHolderID int64) ([]model.Sale, error) {
	return s.ListSalesForLots(ctx, []int64{buyLotID}, accountHolderID)
}

func (s *LotService) ListSalesForLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) (sales []model.Sale, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.ListSalesForLots"

	slog.Debug("ListSalesForLots start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("buyLotIDs", buyLotIDs))
	defer func() {
		slog.Debug("ListSalesForLots finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if len(buyLotIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one buy lot id is required", service.ErrValidation)
	}
	if accountHolderID <= 0 {
		return nil, fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	dbSales, err := s.repo.GetSalesForBuyLots(ctx, buyLotIDs, accountHolderID)
	if err != nil {
		slog.Error("got error from repo.GetSalesForBuyLots", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return dbConverter.ConvertSales(dbSales), nil
}

// ListSalesForTicker returns every SELL of the ticker for the holder,
// regardless of which BUY lot each sale consumed.
func (s *LotService) ListSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) (sales []model.Sale, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.ListSalesForTicker"

	slog.Debug("ListSalesForTicker start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
	defer func() {
		slog.Debug("ListSalesForTicker finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	ticker, err = normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if accountHolderID <= 0 {
		return nil, fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	dbSales, err := s.repo.GetSalesForTicker(ctx, ticker, accountHolderID)
	if err != nil {
		slog.Error("got error from repo.GetSalesForTicker", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return dbConverter.ConvertSales(dbSales), nil
}

// GetRealizedPLSummary aggregates realized P/L over a closed date range,
// broken down by ticker and by exchange. Sales with an unresolvable cost
// basis contribute zero instead of failing the aggregation.
func (s *LotService) GetRealizedPLSummary(ctx context.Context, accountHolderID int64, from, to time.Time) (summary model.RealizedPLSummary, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.GetRealizedPLSummary"

	slog.Debug("GetRealizedPLSummary start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountHolderID", accountHolderID))
	defer func() {
		slog.Debug("GetRealizedPLSummary finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if accountHolderID <= 0 {
		return model.RealizedPLSummary{}, fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}
	if from.After(to) {
		return model.RealizedPLSummary{}, fmt.Errorf("%w: period start is after period end", service.ErrValidation)
	}

	dbSales, err := s.repo.GetSalesForPeriod(ctx, accountHolderID, from, to)
	if err != nil {
		slog.Error("got error from repo.GetSalesForPeriod", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.RealizedPLSummary{}, err
	}

	summary = model.RealizedPLSummary{
		From:       from,
		To:         to,
		ByTicker:   make(map[string]decimal.Decimal),
		ByExchange: make(map[string]decimal.Decimal),
	}

	for _, sale := range dbConverter.ConvertSales(dbSales) {
		summary.Total = summary.Total.Add(sale.RealizedPL)
		summary.ByTicker[sale.Ticker] = summary.ByTicker[sale.Ticker].Add(sale.RealizedPL)
		summary.ByExchange[sale.Exchange] = summary.ByExchange[sale.Exchange].Add(sale.RealizedPL)
		summary.SalesCount++
	}

	return summary, nil
}

// GetPositionSummary is the read-side view of one ticker: open lots plus the
// current market price. A missing price degrades to a position without
// market figures instead of an error.
func (s *LotService) GetPositionSummary(ctx context.Context, ticker string, accountHolderID int64) (position model.Position, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.GetPositionSummary"

	slog.Debug("GetPositionSummary start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
	defer func() {
		slog.Debug("GetPositionSummary finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
	}()

	ticker, err = normalizeTicker(ticker)
	if err != nil {
		return model.Position{}, err
	}
	if accountHolderID <= 0 {
		return model.Position{}, fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	dbLots, err := s.repo.GetOpenBuyLots(ctx, ticker, accountHolderID)
	if err != nil {
		slog.Error("got error from repo.GetOpenBuyLots", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Position{}, err
	}

	position = model.Position{
		Ticker:   ticker,
		OpenLots: dbConverter.ConvertLots(dbLots),
	}

	for _, lot := range position.OpenLots {
		position.TotalQuantity = position.TotalQuantity.Add(lot.QuantityRemaining)
		position.CostValue = position.CostValue.Add(lot.QuantityRemaining.Mul(lot.Price))
	}

	priceInfo, err := s.getPrice(ctx, ticker)
	if err != nil {
		slog.Warn("price unavailable for position", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("err", err.Error()))
		return position, nil
	}

	position.MarketPrice = priceInfo.Price
	position.MarketValue = position.TotalQuantity.Mul(priceInfo.Price)
	position.UnrealizedPL = position.MarketValue.Sub(position.CostValue)

	return position, nil
}

// getPrice reads the quote from cache first and falls back to the price API,
// refreshing the cache off the request path.
func (s *LotService) getPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.getPrice"

	priceInfo, err := s.cache.GetPrice(ctx, ticker)
	if err == nil {
		return priceInfo, nil
	}

	slog.Warn("can't get price from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("err", err.Error()))

	priceInfo, err = s.priceApi.GetPrice(ctx, ticker)
	if err != nil {
		if errors.Is(err, externalApi.ErrNotFound) {
			return priceModel.PriceInfo{}, fmt.Errorf("%w: no quote for ticker %s", service.ErrNotFound, ticker)
		}
		return priceModel.PriceInfo{}, err
	}

	go s.cache.SetPrice(context.WithoutCancel(ctx), priceInfo)

	return priceInfo, nil
}

// FillPriceCache warms the quote cache for every ticker with an open lot.
// Runs as a scheduler job.
func (s *LotService) FillPriceCache(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.FillPriceCache"

	tickers, err := s.repo.GetDistinctOpenTickers(ctx)
	if err != nil {
		slog.Error("got error from repo.GetDistinctOpenTickers", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if len(tickers) == 0 {
		return nil
	}

	prices, err := s.priceApi.GetPrices(ctx, tickers)
	if err != nil {
		slog.Error("got error from priceApi.GetPrices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	priceList := make([]priceModel.PriceInfo, 0, len(prices))
	for _, price := range prices {
		priceList = append(priceList, price)
	}

	return s.cache.SetPrices(ctx, priceList)
}
