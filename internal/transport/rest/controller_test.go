package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockLotService is a mock implementation of LotService for testing.
type MockLotService struct {
	mock.Mock
}

func (m *MockLotService) CreateBuy(ctx context.Context, req model.BuyRequest) (model.Lot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Lot), args.Error(1)
}

func (m *MockLotService) CreateSell(ctx context.Context, req model.SellRequest) ([]model.Lot, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lot), args.Error(1)
}

func (m *MockLotService) CreateDividend(ctx context.Context, req model.DividendRequest) (model.Lot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Lot), args.Error(1)
}

func (m *MockLotService) ApplySplit(ctx context.Context, req model.SplitRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockLotService) UpdateLot(ctx context.Context, lotID int64, patch model.LotPatch) error {
	args := m.Called(ctx, lotID, patch)
	return args.Error(0)
}

func (m *MockLotService) DeleteLot(ctx context.Context, lotID, accountHolderID int64) error {
	args := m.Called(ctx, lotID, accountHolderID)
	return args.Error(0)
}

func (m *MockLotService) ListSalesForLot(ctx context.Context, buyLotID, accountHolderID int64) ([]model.Sale, error) {
	args := m.Called(ctx, buyLotID, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sale), args.Error(1)
}

func (m *MockLotService) ListSalesForLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) ([]model.Sale, error) {
	args := m.Called(ctx, buyLotIDs, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sale), args.Error(1)
}

func (m *MockLotService) ListSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) ([]model.Sale, error) {
	args := m.Called(ctx, ticker, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Sale), args.Error(1)
}

func (m *MockLotService) GetRealizedPLSummary(ctx context.Context, accountHolderID int64, from, to time.Time) (model.RealizedPLSummary, error) {
	args := m.Called(ctx, accountHolderID, from, to)
	return args.Get(0).(model.RealizedPLSummary), args.Error(1)
}

func (m *MockLotService) GetPositionSummary(ctx context.Context, ticker string, accountHolderID int64) (model.Position, error) {
	args := m.Called(ctx, ticker, accountHolderID)
	return args.Get(0).(model.Position), args.Error(1)
}

func (m *MockLotService) GeneratePortfolioReport(ctx context.Context, accountHolderID int64) (string, error) {
	args := m.Called(ctx, accountHolderID)
	return args.String(0), args.Error(1)
}

func (m *MockLotService) AddToWatchlist(ctx context.Context, accountHolderID int64, ticker string) error {
	args := m.Called(ctx, accountHolderID, ticker)
	return args.Error(0)
}

func newTestRouter(srv LotService) http.Handler {
	cfg := &config.Config{}
	cfg.HTTP.RateLimitRPS = 100
	cfg.HTTP.RateLimitBurst = 100
	return NewController(cfg, srv).Router()
}

func TestListSales_ByBuyIds(t *testing.T) {
	mockSrv := new(MockLotService)
	router := newTestRouter(mockSrv)

	sales := []model.Sale{
		{ID: 2, Ticker: "AAPL", Quantity: decimal.NewFromInt(4), RealizedPL: decimal.NewFromInt(40)},
	}

	mockSrv.On("ListSalesForLots", mock.Anything, []int64{1, 3}, int64(7)).Return(sales, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sales?buyIds=1,3&accountHolderId=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ticker":"AAPL"`)
	mockSrv.AssertExpectations(t)
}

func TestListSales_ByTicker(t *testing.T) {
	mockSrv := new(MockLotService)
	router := newTestRouter(mockSrv)

	sales := []model.Sale{
		{ID: 2, Ticker: "AAPL", Quantity: decimal.NewFromInt(4), RealizedPL: decimal.NewFromInt(40)},
		{ID: 7, Ticker: "AAPL", Quantity: decimal.NewFromInt(2), RealizedPL: decimal.NewFromInt(30)},
	}

	mockSrv.On("ListSalesForTicker", mock.Anything, "AAPL", int64(7)).Return(sales, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sales?ticker=AAPL&accountHolderId=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockSrv.AssertNotCalled(t, "ListSalesForLots", mock.Anything, mock.Anything, mock.Anything)
	mockSrv.AssertExpectations(t)
}

func TestListSales_MissingHolder(t *testing.T) {
	mockSrv := new(MockLotService)
	router := newTestRouter(mockSrv)

	req := httptest.NewRequest(http.MethodGet, "/api/sales?buyIds=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockSrv.AssertNotCalled(t, "ListSalesForLots", mock.Anything, mock.Anything, mock.Anything)
}
