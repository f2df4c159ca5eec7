package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/utils"
)

func (r *Postgres) AddWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.AddWatchlistItem"
	query := `
		INSERT INTO watchlist(account_holder_id, ticker)
		VALUES ($1, $2)
	`

	slog.Debug("AddWatchlistItem start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("AddWatchlistItem failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AddWatchlistItem completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, accountHolderID, ticker)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return repository.ErrAlreadyExists
			}
		}
		return err
	}

	return nil
}

// ArchiveWatchlistItem marks the holder's watchlist entry for the ticker as
// archived. Called best-effort after a BUY commits.
func (r *Postgres) ArchiveWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ArchiveWatchlistItem"
	query := `
		UPDATE watchlist
		SET archived = TRUE
		WHERE account_holder_id = $1
		AND ticker = $2
		AND archived = FALSE
	`

	slog.Debug("ArchiveWatchlistItem start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.String("ticker", ticker))
	defer func() {
		if err != nil {
			slog.Error("ArchiveWatchlistItem failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ArchiveWatchlistItem completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, accountHolderID, ticker)
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
