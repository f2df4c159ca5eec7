package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/mkarev/lot_ledger/internal/transport/rest/middleware"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02"

type LotService interface {
	CreateBuy(ctx context.Context, req model.BuyRequest) (model.Lot, error)
	CreateSell(ctx context.Context, req model.SellRequest) ([]model.Lot, error)
	CreateDividend(ctx context.Context, req model.DividendRequest) (model.Lot, error)
	ApplySplit(ctx context.Context, req model.SplitRequest) error
	UpdateLot(ctx context.Context, lotID int64, patch model.LotPatch) error
	DeleteLot(ctx context.Context, lotID, accountHolderID int64) error
	ListSalesForLot(ctx context.Context, buyLotID, accountHolderID int64) ([]model.Sale, error)
	ListSalesForLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) ([]model.Sale, error)
	ListSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) ([]model.Sale, error)
	GetRealizedPLSummary(ctx context.Context, accountHolderID int64, from, to time.Time) (model.RealizedPLSummary, error)
	GetPositionSummary(ctx context.Context, ticker string, accountHolderID int64) (model.Position, error)
	GeneratePortfolioReport(ctx context.Context, accountHolderID int64) (string, error)
	AddToWatchlist(ctx context.Context, accountHolderID int64, ticker string) error
}

type Controller struct {
	cfg *config.Config
	srv LotService
}

func NewController(cfg *config.Config, srv LotService) *Controller {
	return &Controller{cfg: cfg, srv: srv}
}

// Router wires the caller-facing operations behind the request-id, logging
// and rate-limit middleware.
func (c *Controller) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/transactions/buy", c.createBuy)
	mux.HandleFunc("POST /api/transactions/sell", c.createSell)
	mux.HandleFunc("POST /api/transactions/dividend", c.createDividend)
	mux.HandleFunc("POST /api/transactions/split", c.createSplit)
	mux.HandleFunc("PUT /api/transactions/{id}", c.updateLot)
	mux.HandleFunc("DELETE /api/transactions/{id}", c.deleteLot)
	mux.HandleFunc("GET /api/lots/{id}/sales", c.listSalesForLot)
	mux.HandleFunc("GET /api/sales", c.listSales)
	mux.HandleFunc("GET /api/pnl/summary", c.realizedPLSummary)
	mux.HandleFunc("GET /api/positions/{ticker}", c.positionSummary)
	mux.HandleFunc("POST /api/reports/portfolio", c.generateReport)
	mux.HandleFunc("POST /api/watchlist", c.addToWatchlist)

	limiter := rate.NewLimiter(rate.Limit(c.cfg.HTTP.RateLimitRPS), c.cfg.HTTP.RateLimitBurst)

	return middleware.RequestID(middleware.Logger(middleware.RateLimit(limiter)(mux)))
}

type buyRequestDTO struct {
	Ticker          string          `json:"ticker"`
	Exchange        string          `json:"exchange"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TransactionDate string          `json:"transactionDate"`
	AccountHolderID int64           `json:"accountHolderId"`
	AdviceSourceID  *int64          `json:"adviceSourceId,omitempty"`
	LinkedJournalID *int64          `json:"linkedJournalId,omitempty"`
}

type sellAllocationDTO struct {
	ParentBuyID int64           `json:"parentBuyId"`
	Quantity    decimal.Decimal `json:"quantityToSell"`
}

type sellRequestDTO struct {
	Ticker          string              `json:"ticker"`
	Exchange        string              `json:"exchange"`
	Price           decimal.Decimal     `json:"price"`
	TransactionDate string              `json:"transactionDate"`
	AccountHolderID int64               `json:"accountHolderId"`
	Allocations     []sellAllocationDTO `json:"allocations"`
	LinkedJournalID *int64              `json:"linkedJournalId,omitempty"`
}

type dividendRequestDTO struct {
	Ticker          string          `json:"ticker"`
	Exchange        string          `json:"exchange"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TransactionDate string          `json:"transactionDate"`
	AccountHolderID int64           `json:"accountHolderId"`
}

type splitRequestDTO struct {
	Ticker          string          `json:"ticker"`
	SplitFrom       decimal.Decimal `json:"splitFrom"`
	SplitTo         decimal.Decimal `json:"splitTo"`
	SplitDate       string          `json:"splitDate"`
	AccountHolderID int64           `json:"accountHolderId"`
}

type lotPatchDTO struct {
	AccountHolderID  int64            `json:"accountHolderId"`
	Exchange         *string          `json:"exchange,omitempty"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	OriginalQuantity *decimal.Decimal `json:"originalQuantity,omitempty"`
	TransactionDate  *string          `json:"transactionDate,omitempty"`
	AdviceSourceID   *int64           `json:"adviceSourceId,omitempty"`
	LinkedJournalID  *int64           `json:"linkedJournalId,omitempty"`
}

func (c *Controller) createBuy(w http.ResponseWriter, r *http.Request) {
	var dto buyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	transactionDate, err := parseDate(dto.TransactionDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lot, err := c.srv.CreateBuy(r.Context(), model.BuyRequest{
		Ticker:          dto.Ticker,
		Exchange:        dto.Exchange,
		Quantity:        dto.Quantity,
		Price:           dto.Price,
		TransactionDate: transactionDate,
		AccountHolderID: dto.AccountHolderID,
		AdviceSourceID:  dto.AdviceSourceID,
		LinkedJournalID: dto.LinkedJournalID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, lot)
}

func (c *Controller) createSell(w http.ResponseWriter, r *http.Request) {
	var dto sellRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	transactionDate, err := parseDate(dto.TransactionDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	allocations := make([]model.SellAllocation, 0, len(dto.Allocations))
	for _, alloc := range dto.Allocations {
		allocations = append(allocations, model.SellAllocation{
			ParentBuyID: alloc.ParentBuyID,
			Quantity:    alloc.Quantity,
		})
	}

	lots, err := c.srv.CreateSell(r.Context(), model.SellRequest{
		Ticker:          dto.Ticker,
		Exchange:        dto.Exchange,
		Price:           dto.Price,
		TransactionDate: transactionDate,
		AccountHolderID: dto.AccountHolderID,
		Allocations:     allocations,
		LinkedJournalID: dto.LinkedJournalID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, lots)
}

func (c *Controller) createDividend(w http.ResponseWriter, r *http.Request) {
	var dto dividendRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	transactionDate, err := parseDate(dto.TransactionDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lot, err := c.srv.CreateDividend(r.Context(), model.DividendRequest{
		Ticker:          dto.Ticker,
		Exchange:        dto.Exchange,
		Quantity:        dto.Quantity,
		Price:           dto.Price,
		TransactionDate: transactionDate,
		AccountHolderID: dto.AccountHolderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, lot)
}

func (c *Controller) createSplit(w http.ResponseWriter, r *http.Request) {
	var dto splitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	splitDate, err := parseDate(dto.SplitDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = c.srv.ApplySplit(r.Context(), model.SplitRequest{
		Ticker:          dto.Ticker,
		SplitFrom:       dto.SplitFrom,
		SplitTo:         dto.SplitTo,
		SplitDate:       splitDate,
		AccountHolderID: dto.AccountHolderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "split applied"})
}

func (c *Controller) updateLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var dto lotPatchDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	patch := model.LotPatch{
		AccountHolderID:  dto.AccountHolderID,
		Exchange:         dto.Exchange,
		Quantity:         dto.Quantity,
		Price:            dto.Price,
		OriginalQuantity: dto.OriginalQuantity,
		AdviceSourceID:   dto.AdviceSourceID,
		LinkedJournalID:  dto.LinkedJournalID,
	}

	if dto.TransactionDate != nil {
		transactionDate, err := parseDate(*dto.TransactionDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.TransactionDate = &transactionDate
	}

	if err := c.srv.UpdateLot(r.Context(), lotID, patch); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) deleteLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := c.srv.DeleteLot(r.Context(), lotID, accountHolderID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) listSalesForLot(w http.ResponseWriter, r *http.Request) {
	buyLotID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	sales, err := c.srv.ListSalesForLot(r.Context(), buyLotID, accountHolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sales)
}

// listSales serves both filters of GET /api/sales: by ticker, or by a batch
// of parent BUY lot ids.
func (c *Controller) listSales(w http.ResponseWriter, r *http.Request) {
	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		sales, err := c.srv.ListSalesForTicker(r.Context(), ticker, accountHolderID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sales)
		return
	}

	rawIDs := strings.Split(r.URL.Query().Get("buyIds"), ",")
	buyLotIDs := make([]int64, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		rawID = strings.TrimSpace(rawID)
		if rawID == "" {
			continue
		}
		buyLotID, err := parseID(rawID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		buyLotIDs = append(buyLotIDs, buyLotID)
	}

	sales, err := c.srv.ListSalesForLots(r.Context(), buyLotIDs, accountHolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sales)
}

func (c *Controller) realizedPLSummary(w http.ResponseWriter, r *http.Request) {
	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := c.srv.GetRealizedPLSummary(r.Context(), accountHolderID, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (c *Controller) positionSummary(w http.ResponseWriter, r *http.Request) {
	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	position, err := c.srv.GetPositionSummary(r.Context(), r.PathValue("ticker"), accountHolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}

func (c *Controller) generateReport(w http.ResponseWriter, r *http.Request) {
	accountHolderID, err := parseID(r.URL.Query().Get("accountHolderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	downloadLink, err := c.srv.GeneratePortfolioReport(r.Context(), accountHolderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"downloadLink": downloadLink})
}

type watchlistItemDTO struct {
	Ticker          string `json:"ticker"`
	AccountHolderID int64  `json:"accountHolderId"`
}

func (c *Controller) addToWatchlist(w http.ResponseWriter, r *http.Request) {
	var dto watchlistItemDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", service.ErrValidation))
		return
	}

	if err := c.srv.AddToWatchlist(r.Context(), dto.AccountHolderID, dto.Ticker); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "added to watchlist"})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", service.ErrValidation, raw)
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", service.ErrValidation, raw)
	}
	return date, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.String("err", err.Error()))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rqID := utils.GetRequestIDFromCtx(r.Context())

	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
		message = err.Error()
	default:
		slog.Error("unexpected error", slog.String("rqID", rqID), slog.String("err", err.Error()))
	}

	writeJSON(w, status, map[string]string{"error": message})
}
