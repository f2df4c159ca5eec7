package lotService

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarev/lot_ledger/internal/converter/dbConverter"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
)

// GeneratePortfolioReport builds the holder's xlsx report (open positions,
// realized P/L history, dividends), uploads it to cloud storage and returns
// the download link.
func (s *LotService) GeneratePortfolioReport(ctx context.Context, accountHolderID int64) (downloadLink string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.GeneratePortfolioReport"

	slog.Debug("GeneratePortfolioReport start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountHolderID", accountHolderID))
	defer func() {
		slog.Debug("GeneratePortfolioReport finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("accountHolderID", accountHolderID))
	}()

	if accountHolderID <= 0 {
		return "", fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	report, err := s.buildPortfolioReport(ctx, accountHolderID)
	if err != nil {
		return "", err
	}

	fileBytes, fileExtension, err := s.reportGenerator.Generate(ctx, report)
	if err != nil {
		slog.Error("got error from reportGenerator.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	filename := fmt.Sprintf("portfolio_report_%d_%s%s", accountHolderID, time.Now().Format("2006-01-02"), fileExtension)

	downloadLink, err = s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("got error from cloudStorage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	return downloadLink, nil
}

func (s *LotService) buildPortfolioReport(ctx context.Context, accountHolderID int64) (model.PortfolioReport, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.buildPortfolioReport"

	dbLots, err := s.repo.GetOpenBuyLotsForHolder(ctx, accountHolderID)
	if err != nil {
		slog.Error("got error from repo.GetOpenBuyLotsForHolder", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioReport{}, err
	}

	// lots come back ordered by ticker, so grouping is a single pass
	report := model.PortfolioReport{AccountHolderID: accountHolderID}
	var current *model.Position
	for _, dbLot := range dbLots {
		lot := dbConverter.ConvertLot(dbLot)
		if current == nil || current.Ticker != lot.Ticker {
			report.Positions = append(report.Positions, model.Position{Ticker: lot.Ticker})
			current = &report.Positions[len(report.Positions)-1]
		}
		current.OpenLots = append(current.OpenLots, lot)
		current.TotalQuantity = current.TotalQuantity.Add(lot.QuantityRemaining)
		current.CostValue = current.CostValue.Add(lot.QuantityRemaining.Mul(lot.Price))
	}

	for i := range report.Positions {
		position := &report.Positions[i]
		priceInfo, err := s.getPrice(ctx, position.Ticker)
		if err != nil {
			slog.Warn("price unavailable for report position", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", position.Ticker), slog.String("err", err.Error()))
			continue
		}
		position.MarketPrice = priceInfo.Price
		position.MarketValue = position.TotalQuantity.Mul(priceInfo.Price)
		position.UnrealizedPL = position.MarketValue.Sub(position.CostValue)
	}

	dbSales, err := s.repo.GetSalesForPeriod(ctx, accountHolderID, time.Time{}, time.Now())
	if err != nil {
		slog.Error("got error from repo.GetSalesForPeriod", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioReport{}, err
	}
	report.Sales = dbConverter.ConvertSales(dbSales)

	dbDividends, err := s.repo.GetDividends(ctx, accountHolderID)
	if err != nil {
		slog.Error("got error from repo.GetDividends", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioReport{}, err
	}
	report.Dividends = dbConverter.ConvertLots(dbDividends)

	return report, nil
}

// CleanupCloudReports drops stale uploaded report files. Runs as a scheduler
// job.
func (s *LotService) CleanupCloudReports(ctx context.Context) error {
	return s.cloudStorage.DeleteOldFiles(ctx)
}
