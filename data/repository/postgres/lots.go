package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
)

const lotColumns = `
	transaction_id, ticker, exchange, transaction_type, quantity, price,
	original_quantity, quantity_remaining, parent_buy_id, account_holder_id,
	transaction_date, advice_source_id, linked_journal_id, dt_create
`

func (r *Postgres) InsertLot(ctx context.Context, lot dbModel.Lot) (lotID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertLot"
	query := `
		INSERT INTO transactions(
			ticker, exchange, transaction_type, quantity, price,
			original_quantity, quantity_remaining, parent_buy_id,
			account_holder_id, transaction_date, advice_source_id, linked_journal_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING transaction_id
	`

	slog.Debug("InsertLot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("lot", lot))
	defer func() {
		if err != nil {
			slog.Error("InsertLot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertLot completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("lotID", lotID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(
		ctx,
		query,
		lot.Ticker,
		lot.Exchange,
		lot.TransactionType,
		lot.Quantity,
		lot.Price,
		lot.OriginalQuantity,
		lot.QuantityRemaining,
		lot.ParentBuyID,
		lot.AccountHolderID,
		lot.TransactionDate,
		lot.AdviceSourceID,
		lot.LinkedJournalID,
	).Scan(&lotID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23503" { // foreign_key_violation
				return 0, repository.ErrNotFound
			}
		}
		return 0, err
	}

	return lotID, nil
}

func (r *Postgres) GetLot(ctx context.Context, lotID, accountHolderID int64) (lot dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLot"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE transaction_id = $1
		AND account_holder_id = $2
	`

	slog.Debug("GetLot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID))
	defer func() {
		if err != nil {
			slog.Error("GetLot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, lotID, accountHolderID).StructScan(&lot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dbModel.Lot{}, repository.ErrNotFound
		}
		return dbModel.Lot{}, err
	}

	return lot, nil
}

// GetLotForUpdate locks the row for the rest of the surrounding transaction.
// Must be called inside WithinTransaction.
func (r *Postgres) GetLotForUpdate(ctx context.Context, lotID, accountHolderID int64) (lot dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLotForUpdate"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE transaction_id = $1
		AND account_holder_id = $2
		FOR UPDATE
	`

	slog.Debug("GetLotForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID))
	defer func() {
		if err != nil {
			slog.Error("GetLotForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLotForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, lotID, accountHolderID).StructScan(&lot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dbModel.Lot{}, repository.ErrNotFound
		}
		return dbModel.Lot{}, err
	}

	return lot, nil
}

// GetBuyLotForUpdate locks a BUY lot of the given ticker/holder. The lock is
// what serializes concurrent SELLs against the same lot.
func (r *Postgres) GetBuyLotForUpdate(ctx context.Context, lotID int64, ticker string, accountHolderID int64) (lot dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetBuyLotForUpdate"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE transaction_id = $1
		AND ticker = $2
		AND account_holder_id = $3
		AND transaction_type = 'BUY'
		FOR UPDATE
	`

	slog.Debug("GetBuyLotForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("GetBuyLotForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetBuyLotForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, lotID, ticker, accountHolderID).StructScan(&lot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dbModel.Lot{}, repository.ErrNotFound
		}
		return dbModel.Lot{}, err
	}

	return lot, nil
}

// GetOpenBuyLotsForUpdate locks every open BUY lot of the ticker/holder for a
// split rewrite. Ordered by transaction_date with dt_create as tie break.
func (r *Postgres) GetOpenBuyLotsForUpdate(ctx context.Context, ticker string, accountHolderID int64) (lots []dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOpenBuyLotsForUpdate"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE ticker = $1
		AND account_holder_id = $2
		AND transaction_type = 'BUY'
		AND quantity_remaining > 0.00001
		ORDER BY transaction_date, dt_create
		FOR UPDATE
	`

	slog.Debug("GetOpenBuyLotsForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("GetOpenBuyLotsForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOpenBuyLotsForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, ticker, accountHolderID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var lot dbModel.Lot
		err = rows.StructScan(&lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, nil
}

func (r *Postgres) GetOpenBuyLots(ctx context.Context, ticker string, accountHolderID int64) (lots []dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOpenBuyLots"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE ticker = $1
		AND account_holder_id = $2
		AND transaction_type = 'BUY'
		AND quantity_remaining > 0.00001
		ORDER BY transaction_date, dt_create
	`

	slog.Debug("GetOpenBuyLots start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("GetOpenBuyLots failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOpenBuyLots completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, ticker, accountHolderID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var lot dbModel.Lot
		err = rows.StructScan(&lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, nil
}

func (r *Postgres) GetOpenBuyLotsForHolder(ctx context.Context, accountHolderID int64) (lots []dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOpenBuyLotsForHolder"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE account_holder_id = $1
		AND transaction_type = 'BUY'
		AND quantity_remaining > 0.00001
		ORDER BY ticker, transaction_date, dt_create
	`

	slog.Debug("GetOpenBuyLotsForHolder start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("accountHolderID", accountHolderID))
	defer func() {
		if err != nil {
			slog.Error("GetOpenBuyLotsForHolder failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOpenBuyLotsForHolder completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountHolderID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var lot dbModel.Lot
		err = rows.StructScan(&lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, nil
}

func (r *Postgres) GetDividends(ctx context.Context, accountHolderID int64) (lots []dbModel.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetDividends"
	query := `
		SELECT ` + lotColumns + `
		FROM transactions
		WHERE account_holder_id = $1
		AND transaction_type = 'DIVIDEND'
		ORDER BY transaction_date, dt_create
	`

	slog.Debug("GetDividends start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("accountHolderID", accountHolderID))
	defer func() {
		if err != nil {
			slog.Error("GetDividends failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetDividends completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountHolderID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var lot dbModel.Lot
		err = rows.StructScan(&lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, nil
}

func (r *Postgres) UpdateQuantityRemaining(ctx context.Context, lotID int64, quantityRemaining decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateQuantityRemaining"
	query := `
		UPDATE transactions
		SET quantity_remaining = $1
		WHERE transaction_id = $2
	`

	slog.Debug("UpdateQuantityRemaining start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID), slog.String("quantityRemaining", quantityRemaining.String()))
	defer func() {
		if err != nil {
			slog.Error("UpdateQuantityRemaining failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateQuantityRemaining completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, quantityRemaining, lotID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ApplySplitToLot rewrites the three split-scaled fields of one open lot.
func (r *Postgres) ApplySplitToLot(ctx context.Context, lotID int64, quantityRemaining, price, originalQuantity decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ApplySplitToLot"
	query := `
		UPDATE transactions
		SET
			quantity_remaining = $1,
			price = $2,
			original_quantity = $3
		WHERE transaction_id = $4
	`

	slog.Debug("ApplySplitToLot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID))
	defer func() {
		if err != nil {
			slog.Error("ApplySplitToLot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ApplySplitToLot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, quantityRemaining, price, originalQuantity, lotID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLotFields patches the mutable columns of a lot. Nil arguments keep
// the stored value via COALESCE.
func (r *Postgres) UpdateLotFields(ctx context.Context, lotID, accountHolderID int64, patch dbModel.LotUpdate) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateLotFields"
	query := `
		UPDATE transactions
		SET
			exchange = COALESCE($1, exchange),
			quantity = COALESCE($2, quantity),
			price = COALESCE($3, price),
			original_quantity = COALESCE($4, original_quantity),
			quantity_remaining = COALESCE($5, quantity_remaining),
			transaction_date = COALESCE($6, transaction_date),
			advice_source_id = COALESCE($7, advice_source_id),
			linked_journal_id = COALESCE($8, linked_journal_id)
		WHERE transaction_id = $9
		AND account_holder_id = $10
	`

	slog.Debug("UpdateLotFields start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID))
	defer func() {
		if err != nil {
			slog.Error("UpdateLotFields failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateLotFields completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		patch.Exchange,
		patch.Quantity,
		patch.Price,
		patch.OriginalQuantity,
		patch.QuantityRemaining,
		patch.TransactionDate,
		patch.AdviceSourceID,
		patch.LinkedJournalID,
		lotID,
		accountHolderID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) DeleteLot(ctx context.Context, lotID, accountHolderID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteLot"
	query := `
		DELETE FROM transactions
		WHERE transaction_id = $1
		AND account_holder_id = $2
	`

	slog.Debug("DeleteLot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("lotID", lotID))
	defer func() {
		if err != nil {
			slog.Error("DeleteLot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteLot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, lotID, accountHolderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23503" { // foreign_key_violation
				return repository.ErrReferenced
			}
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) CountSellsForBuy(ctx context.Context, buyLotID int64) (count int, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.CountSellsForBuy"
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE parent_buy_id = $1
		AND transaction_type = 'SELL'
	`

	slog.Debug("CountSellsForBuy start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("buyLotID", buyLotID))
	defer func() {
		if err != nil {
			slog.Error("CountSellsForBuy failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CountSellsForBuy completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", count))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, buyLotID).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *Postgres) GetDistinctOpenTickers(ctx context.Context) (tickers []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetDistinctOpenTickers"
	query := `
		SELECT DISTINCT ticker FROM transactions
		WHERE transaction_type = 'BUY'
		AND quantity_remaining > 0.00001
	`

	slog.Debug("GetDistinctOpenTickers start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetDistinctOpenTickers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetDistinctOpenTickers completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(tickers)))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var ticker string
		err = rows.Scan(&ticker)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, ticker)
	}

	return tickers, nil
}
