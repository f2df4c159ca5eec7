package lotService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
)

// lockedParent accumulates the total quantity requested against one BUY lot
// across all allocations of a SELL request.
type lockedParent struct {
	lot       dbModel.Lot
	requested decimal.Decimal
}

// CreateSell consumes one or more BUY lots in a single atomic scope. Every
// referenced lot is locked and the whole batch is validated before any write:
// if any allocation over-draws its lot the entire request is rejected and no
// lot is touched. One SELL row is inserted per allocation.
func (s *LotService) CreateSell(ctx context.Context, req model.SellRequest) (lots []model.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.CreateSell"

	slog.Debug("CreateSell start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker), slog.Int("allocations", len(req.Allocations)))
	defer func() {
		slog.Debug("CreateSell finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	}()

	ticker, err := normalizeTicker(req.Ticker)
	if err != nil {
		return nil, err
	}
	if err := s.validateSellRequest(req); err != nil {
		return nil, err
	}

	createdIDs := make([]int64, 0, len(req.Allocations))

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		// lock every referenced lot and sum the requested quantity per lot,
		// so two allocations drawing from the same lot can't slip past the
		// remaining-quantity check individually
		parents := make(map[int64]*lockedParent, len(req.Allocations))
		parentOrder := make([]int64, 0, len(req.Allocations))

		for _, alloc := range req.Allocations {
			parent, ok := parents[alloc.ParentBuyID]
			if !ok {
				lot, err := s.repo.GetBuyLotForUpdate(ctx, alloc.ParentBuyID, ticker, req.AccountHolderID)
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return fmt.Errorf("%w: buy lot %d not found for ticker %s", service.ErrNotFound, alloc.ParentBuyID, ticker)
					}
					return err
				}
				parent = &lockedParent{lot: lot}
				parents[alloc.ParentBuyID] = parent
				parentOrder = append(parentOrder, alloc.ParentBuyID)
			}
			parent.requested = parent.requested.Add(alloc.Quantity)
		}

		// re-validated under the row locks: the decrement below can't race a
		// concurrent SELL against the same lot
		for _, parentID := range parentOrder {
			parent := parents[parentID]
			remaining := parent.lot.QuantityRemaining.Decimal
			if parent.requested.GreaterThan(remaining.Add(epsilon)) {
				return fmt.Errorf(
					"%w: buy lot %d has %s remaining, requested %s",
					service.ErrValidation, parentID, remaining.String(), parent.requested.String(),
				)
			}
		}

		for _, alloc := range req.Allocations {
			parent := parents[alloc.ParentBuyID]

			newRemaining := parent.lot.QuantityRemaining.Decimal.Sub(alloc.Quantity)
			if newRemaining.IsNegative() {
				// within epsilon of zero: the lot is fully consumed
				newRemaining = decimal.Zero
			}
			parent.lot.QuantityRemaining.Decimal = newRemaining

			if err := s.repo.UpdateQuantityRemaining(ctx, alloc.ParentBuyID, newRemaining); err != nil {
				return err
			}

			parentID := alloc.ParentBuyID
			sellID, err := s.repo.InsertLot(ctx, dbModel.Lot{
				Ticker:          ticker,
				Exchange:        req.Exchange,
				TransactionType: string(model.TypeSell),
				Quantity:        alloc.Quantity,
				Price:           req.Price,
				ParentBuyID:     toNullInt64(&parentID),
				AccountHolderID: req.AccountHolderID,
				TransactionDate: req.TransactionDate,
				LinkedJournalID: toNullInt64(req.LinkedJournalID),
			})
			if err != nil {
				return err
			}
			createdIDs = append(createdIDs, sellID)
		}

		return nil
	})
	if err != nil {
		slog.Error("CreateSell transaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	lots = make([]model.Lot, 0, len(createdIDs))
	for _, lotID := range createdIDs {
		lot, err := s.getLot(ctx, lotID, req.AccountHolderID)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, nil
}

func (s *LotService) validateSellRequest(req model.SellRequest) error {
	if strings.TrimSpace(req.Exchange) == "" {
		return fmt.Errorf("%w: exchange is required", service.ErrValidation)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}
	if req.TransactionDate.IsZero() {
		return fmt.Errorf("%w: transaction date is required", service.ErrValidation)
	}
	if req.AccountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}
	if len(req.Allocations) == 0 {
		return fmt.Errorf("%w: at least one lot allocation is required", service.ErrValidation)
	}
	for _, alloc := range req.Allocations {
		if alloc.ParentBuyID <= 0 {
			return fmt.Errorf("%w: parent buy lot id is required", service.ErrValidation)
		}
		if !alloc.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity to sell must be positive", service.ErrValidation)
		}
	}
	return nil
}
