package lotService

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
)

// ApplySplit rescales every open BUY lot of (ticker, holder) by the ratio
// to/from: quantity_remaining and original_quantity are multiplied, price is
// divided, so remaining*price stays constant per lot. Already-booked SELL
// rows are never touched. The audit row encodes the ratio as
// quantity=split_to, price=split_from and is inserted even when no open lot
// exists. The lot rewrites and the audit insert commit or roll back as one
// unit.
func (s *LotService) ApplySplit(ctx context.Context, req model.SplitRequest) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.ApplySplit"

	slog.Debug("ApplySplit start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker), slog.String("from", req.SplitFrom.String()), slog.String("to", req.SplitTo.String()))
	defer func() {
		slog.Debug("ApplySplit finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	}()

	ticker, err := normalizeTicker(req.Ticker)
	if err != nil {
		return err
	}
	if !req.SplitFrom.IsPositive() || !req.SplitTo.IsPositive() {
		return fmt.Errorf("%w: split_from and split_to must be positive", service.ErrValidation)
	}
	if req.SplitDate.IsZero() {
		return fmt.Errorf("%w: split date is required", service.ErrValidation)
	}
	if req.AccountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	ratio := req.SplitTo.Div(req.SplitFrom)

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lots, err := s.repo.GetOpenBuyLotsForUpdate(ctx, ticker, req.AccountHolderID)
		if err != nil {
			return err
		}

		for _, lot := range lots {
			newRemaining := lot.QuantityRemaining.Decimal.Mul(ratio)
			newPrice := lot.Price.Div(ratio)
			newOriginal := lot.OriginalQuantity.Decimal.Mul(ratio)

			if err := s.repo.ApplySplitToLot(ctx, lot.TransactionID, newRemaining, newPrice, newOriginal); err != nil {
				return err
			}
		}

		_, err = s.repo.InsertLot(ctx, dbModel.Lot{
			Ticker:          ticker,
			Exchange:        "",
			TransactionType: string(model.TypeSplit),
			Quantity:        req.SplitTo,
			Price:           req.SplitFrom,
			AccountHolderID: req.AccountHolderID,
			TransactionDate: req.SplitDate,
		})
		return err
	})
	if err != nil {
		slog.Error("ApplySplit transaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}
