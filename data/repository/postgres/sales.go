package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/utils"
)

const saleColumns = `
	s.transaction_id, s.ticker, s.exchange, s.quantity, s.price,
	s.parent_buy_id, s.account_holder_id, s.transaction_date,
	b.price AS cost_basis
`

// GetSalesForBuyLots returns every SELL row consuming one of the given BUY
// lots, with the parent's price joined in as cost basis. The IN list is bound
// through sqlx.In, never interpolated.
func (r *Postgres) GetSalesForBuyLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) (sales []dbModel.Sale, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetSalesForBuyLots"
	query := `
		SELECT ` + saleColumns + `
		FROM transactions s
		LEFT JOIN transactions b
			ON b.transaction_id = s.parent_buy_id
			AND b.account_holder_id = s.account_holder_id
		WHERE s.transaction_type = 'SELL'
		AND s.account_holder_id = ?
		AND s.parent_buy_id IN (?)
		ORDER BY s.transaction_date, s.dt_create
	`

	slog.Debug("GetSalesForBuyLots start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("buyLotIDs", buyLotIDs))
	defer func() {
		if err != nil {
			slog.Error("GetSalesForBuyLots failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetSalesForBuyLots completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(sales)))
		}
	}()

	if len(buyLotIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(query, accountHolderID, buyLotIDs)
	if err != nil {
		return nil, err
	}

	q := r.txOrDb(ctx)
	rows, err := q.QueryxContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var sale dbModel.Sale
		err = rows.StructScan(&sale)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, nil
}

func (r *Postgres) GetSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) (sales []dbModel.Sale, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetSalesForTicker"
	query := `
		SELECT ` + saleColumns + `
		FROM transactions s
		LEFT JOIN transactions b
			ON b.transaction_id = s.parent_buy_id
			AND b.account_holder_id = s.account_holder_id
		WHERE s.transaction_type = 'SELL'
		AND s.ticker = $1
		AND s.account_holder_id = $2
		ORDER BY s.transaction_date, s.dt_create
	`

	slog.Debug("GetSalesForTicker start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("GetSalesForTicker failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetSalesForTicker completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(sales)))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, ticker, accountHolderID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var sale dbModel.Sale
		err = rows.StructScan(&sale)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, nil
}

func (r *Postgres) GetSalesForPeriod(ctx context.Context, accountHolderID int64, from, to time.Time) (sales []dbModel.Sale, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetSalesForPeriod"
	query := `
		SELECT ` + saleColumns + `
		FROM transactions s
		LEFT JOIN transactions b
			ON b.transaction_id = s.parent_buy_id
			AND b.account_holder_id = s.account_holder_id
		WHERE s.transaction_type = 'SELL'
		AND s.account_holder_id = $1
		AND s.transaction_date >= $2
		AND s.transaction_date <= $3
		ORDER BY s.transaction_date, s.dt_create
	`

	slog.Debug("GetSalesForPeriod start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("accountHolderID", accountHolderID))
	defer func() {
		if err != nil {
			slog.Error("GetSalesForPeriod failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetSalesForPeriod completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("count", len(sales)))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, accountHolderID, from, to)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var sale dbModel.Sale
		err = rows.StructScan(&sale)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, nil
}
