package lotService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
)

// UpdateLot patches the mutable fields of an existing record. When a BUY
// lot's original_quantity changes, the delta is carried over to
// quantity_remaining only if the lot is still untouched or the change is an
// increase; a decrease on a partially consumed lot leaves quantity_remaining
// alone, which can leave remaining above the new original. That asymmetry is
// deliberate and kept as is.
//
// A SELL row accepts only exchange, date and link patches: its quantity and
// price are fixed once booked, since the quantity is already subtracted from
// the parent lot and the price feeds realized P/L.
func (s *LotService) UpdateLot(ctx context.Context, lotID int64, patch model.LotPatch) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.UpdateLot"

	slog.Debug("UpdateLot start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("lotID", lotID))
	defer func() {
		slog.Debug("UpdateLot finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("lotID", lotID))
	}()

	if patch.AccountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}
	if patch.Quantity != nil && !patch.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", service.ErrValidation)
	}
	if patch.Price != nil && !patch.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}
	if patch.OriginalQuantity != nil && !patch.OriginalQuantity.IsPositive() {
		return fmt.Errorf("%w: original quantity must be positive", service.ErrValidation)
	}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID, patch.AccountHolderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: lot %d", service.ErrNotFound, lotID)
			}
			return err
		}

		if lot.TransactionType == string(model.TypeSell) && (patch.Quantity != nil || patch.Price != nil) {
			return fmt.Errorf("%w: quantity and price of a SELL record are immutable", service.ErrValidation)
		}

		upd := dbModel.LotUpdate{
			Exchange:        patch.Exchange,
			Quantity:        patch.Quantity,
			Price:           patch.Price,
			TransactionDate: patch.TransactionDate,
			AdviceSourceID:  patch.AdviceSourceID,
			LinkedJournalID: patch.LinkedJournalID,
		}

		if patch.OriginalQuantity != nil {
			if lot.TransactionType != string(model.TypeBuy) {
				return fmt.Errorf("%w: original quantity applies only to BUY lots", service.ErrValidation)
			}

			oldOriginal := lot.OriginalQuantity.Decimal
			if !patch.OriginalQuantity.Equal(oldOriginal) {
				delta := patch.OriginalQuantity.Sub(oldOriginal)
				untouched := lot.QuantityRemaining.Decimal.Sub(oldOriginal).Abs().LessThanOrEqual(epsilon)

				if untouched || delta.IsPositive() {
					newRemaining := lot.QuantityRemaining.Decimal.Add(delta)
					upd.QuantityRemaining = &newRemaining
				}
				upd.OriginalQuantity = patch.OriginalQuantity
			}
		}

		return s.repo.UpdateLotFields(ctx, lotID, patch.AccountHolderID, upd)
	})
	if err != nil {
		slog.Error("UpdateLot transaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

// DeleteLot removes a record with invariant repair: deleting a SELL restores
// its quantity to the parent BUY lot; a BUY with dependent SELLs is
// protected; DIVIDEND and SPLIT audit rows delete unconditionally.
func (s *LotService) DeleteLot(ctx context.Context, lotID, accountHolderID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.DeleteLot"

	slog.Debug("DeleteLot start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("lotID", lotID))
	defer func() {
		slog.Debug("DeleteLot finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("lotID", lotID))
	}()

	if accountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID, accountHolderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: lot %d", service.ErrNotFound, lotID)
			}
			return err
		}

		switch model.TransactionType(lot.TransactionType) {
		case model.TypeSell:
			if lot.ParentBuyID.Valid {
				parent, err := s.repo.GetLotForUpdate(ctx, lot.ParentBuyID.Int64, accountHolderID)
				if err != nil {
					return err
				}
				newRemaining := parent.QuantityRemaining.Decimal.Add(lot.Quantity)
				if err := s.repo.UpdateQuantityRemaining(ctx, parent.TransactionID, newRemaining); err != nil {
					return err
				}
			}
		case model.TypeBuy:
			count, err := s.repo.CountSellsForBuy(ctx, lotID)
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: cannot delete BUY lot %d with %d dependent SELLs", service.ErrConflict, lotID, count)
			}
		}

		err = s.repo.DeleteLot(ctx, lotID, accountHolderID)
		if err != nil {
			if errors.Is(err, repository.ErrReferenced) {
				return fmt.Errorf("%w: lot %d is referenced by other transactions", service.ErrConflict, lotID)
			}
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: lot %d", service.ErrNotFound, lotID)
			}
			return err
		}

		return nil
	})
	if err != nil {
		slog.Error("DeleteLot transaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}
