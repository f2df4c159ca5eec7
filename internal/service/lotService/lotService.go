package lotService

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/internal/converter/dbConverter"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
)

// epsilon is the tolerance for quantity_remaining comparisons.
var epsilon = decimal.NewFromFloat(0.00001)

type Repository interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
	InsertLot(ctx context.Context, lot dbModel.Lot) (lotID int64, err error)
	GetLot(ctx context.Context, lotID, accountHolderID int64) (dbModel.Lot, error)
	GetLotForUpdate(ctx context.Context, lotID, accountHolderID int64) (dbModel.Lot, error)
	GetBuyLotForUpdate(ctx context.Context, lotID int64, ticker string, accountHolderID int64) (dbModel.Lot, error)
	GetOpenBuyLotsForUpdate(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Lot, error)
	GetOpenBuyLots(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Lot, error)
	GetOpenBuyLotsForHolder(ctx context.Context, accountHolderID int64) ([]dbModel.Lot, error)
	GetDividends(ctx context.Context, accountHolderID int64) ([]dbModel.Lot, error)
	UpdateQuantityRemaining(ctx context.Context, lotID int64, quantityRemaining decimal.Decimal) error
	ApplySplitToLot(ctx context.Context, lotID int64, quantityRemaining, price, originalQuantity decimal.Decimal) error
	UpdateLotFields(ctx context.Context, lotID, accountHolderID int64, patch dbModel.LotUpdate) error
	DeleteLot(ctx context.Context, lotID, accountHolderID int64) error
	CountSellsForBuy(ctx context.Context, buyLotID int64) (int, error)
	GetSalesForBuyLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) ([]dbModel.Sale, error)
	GetSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Sale, error)
	GetSalesForPeriod(ctx context.Context, accountHolderID int64, from, to time.Time) ([]dbModel.Sale, error)
	GetDistinctOpenTickers(ctx context.Context) ([]string, error)
	AddWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) error
	ArchiveWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) error
}

type Cache interface {
	GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error)
	SetPrice(ctx context.Context, price priceModel.PriceInfo) error
	SetPrices(ctx context.Context, prices []priceModel.PriceInfo) error
}

type PriceApi interface {
	GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error)
	GetPrices(ctx context.Context, tickers []string) (map[string]priceModel.PriceInfo, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context) error
}

type LotService struct {
	cfg             *config.Config
	repo            Repository
	cache           Cache
	priceApi        PriceApi
	reportGenerator ReportGenerator
	cloudStorage    CloudStorage
}

func New(cfg *config.Config, repo Repository, cache Cache, priceApi PriceApi, reportGenerator ReportGenerator, cloudStorage CloudStorage) *LotService {
	return &LotService{
		cfg:             cfg,
		repo:            repo,
		cache:           cache,
		priceApi:        priceApi,
		reportGenerator: reportGenerator,
		cloudStorage:    cloudStorage,
	}
}

// CreateBuy opens a new lot: original_quantity = quantity_remaining = quantity.
// After the commit the holder's watchlist entry for the ticker is archived
// best-effort; archive failure never affects the created lot.
func (s *LotService) CreateBuy(ctx context.Context, req model.BuyRequest) (lot model.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.CreateBuy"

	slog.Debug("CreateBuy start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	defer func() {
		slog.Debug("CreateBuy finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	}()

	ticker, err := normalizeTicker(req.Ticker)
	if err != nil {
		return model.Lot{}, err
	}
	if err := validateCommonFields(req.Exchange, req.Quantity, req.Price, req.TransactionDate, req.AccountHolderID); err != nil {
		return model.Lot{}, err
	}

	dbLot := dbModel.Lot{
		Ticker:            ticker,
		Exchange:          req.Exchange,
		TransactionType:   string(model.TypeBuy),
		Quantity:          req.Quantity,
		Price:             req.Price,
		OriginalQuantity:  decimal.NewNullDecimal(req.Quantity),
		QuantityRemaining: decimal.NewNullDecimal(req.Quantity),
		AccountHolderID:   req.AccountHolderID,
		TransactionDate:   req.TransactionDate,
		AdviceSourceID:    toNullInt64(req.AdviceSourceID),
		LinkedJournalID:   toNullInt64(req.LinkedJournalID),
	}

	var lotID int64
	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lotID, err = s.repo.InsertLot(ctx, dbLot)
		return err
	})
	if err != nil {
		slog.Error("got error from repo.InsertLot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Lot{}, err
	}

	go s.archiveWatchlistItem(context.WithoutCancel(ctx), req.AccountHolderID, ticker)

	return s.getLot(ctx, lotID, req.AccountHolderID)
}

// CreateDividend records a standalone DIVIDEND row. No lot is consumed; the
// engine doesn't interpret quantity beyond requiring it to be positive.
func (s *LotService) CreateDividend(ctx context.Context, req model.DividendRequest) (lot model.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.CreateDividend"

	slog.Debug("CreateDividend start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	defer func() {
		slog.Debug("CreateDividend finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	}()

	ticker, err := normalizeTicker(req.Ticker)
	if err != nil {
		return model.Lot{}, err
	}
	if err := validateCommonFields(req.Exchange, req.Quantity, req.Price, req.TransactionDate, req.AccountHolderID); err != nil {
		return model.Lot{}, err
	}

	dbLot := dbModel.Lot{
		Ticker:          ticker,
		Exchange:        req.Exchange,
		TransactionType: string(model.TypeDividend),
		Quantity:        req.Quantity,
		Price:           req.Price,
		AccountHolderID: req.AccountHolderID,
		TransactionDate: req.TransactionDate,
	}

	var lotID int64
	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lotID, err = s.repo.InsertLot(ctx, dbLot)
		return err
	})
	if err != nil {
		slog.Error("got error from repo.InsertLot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Lot{}, err
	}

	return s.getLot(ctx, lotID, req.AccountHolderID)
}

func (s *LotService) getLot(ctx context.Context, lotID, accountHolderID int64) (model.Lot, error) {
	dbLot, err := s.repo.GetLot(ctx, lotID, accountHolderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Lot{}, fmt.Errorf("%w: lot %d", service.ErrNotFound, lotID)
		}
		return model.Lot{}, err
	}
	return dbConverter.ConvertLot(dbLot), nil
}

// AddToWatchlist puts a ticker on the holder's watchlist. The entry is
// archived automatically once a BUY for the ticker lands.
func (s *LotService) AddToWatchlist(ctx context.Context, accountHolderID int64, ticker string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.AddToWatchlist"

	slog.Debug("AddToWatchlist start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
	defer func() {
		slog.Debug("AddToWatchlist finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
	}()

	ticker, err = normalizeTicker(ticker)
	if err != nil {
		return err
	}
	if accountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}

	err = s.repo.AddWatchlistItem(ctx, accountHolderID, ticker)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return fmt.Errorf("%w: ticker %s is already on the watchlist", service.ErrConflict, ticker)
		}
		slog.Error("got error from repo.AddWatchlistItem", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func (s *LotService) archiveWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LotService.archiveWatchlistItem"

	err := s.repo.ArchiveWatchlistItem(ctx, accountHolderID, ticker)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Debug("no watchlist item to archive", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
			return
		}
		slog.Warn("failed to archive watchlist item", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("err", err.Error()))
	}
}

func normalizeTicker(ticker string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", fmt.Errorf("%w: ticker is required", service.ErrValidation)
	}
	return ticker, nil
}

func validateCommonFields(exchange string, quantity, price decimal.Decimal, transactionDate time.Time, accountHolderID int64) error {
	if strings.TrimSpace(exchange) == "" {
		return fmt.Errorf("%w: exchange is required", service.ErrValidation)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", service.ErrValidation)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}
	if transactionDate.IsZero() {
		return fmt.Errorf("%w: transaction date is required", service.ErrValidation)
	}
	if accountHolderID <= 0 {
		return fmt.Errorf("%w: account holder id is required", service.ErrValidation)
	}
	return nil
}

func toNullInt64(v *int64) (res sql.NullInt64) {
	if v != nil {
		res.Int64 = *v
		res.Valid = true
	}
	return res
}
