package lotService

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkarev/lot_ledger/config"
	"github.com/mkarev/lot_ledger/data/repository"
	"github.com/mkarev/lot_ledger/internal/externalApi"
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/mkarev/lot_ledger/internal/model/priceModel"
	"github.com/mkarev/lot_ledger/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of Repository for testing.
// WithinTransaction just runs the callback so the calls inside the
// transactional scope hit the mock directly.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error {
	return tFunc(ctx)
}

func (m *MockRepository) InsertLot(ctx context.Context, lot dbModel.Lot) (int64, error) {
	args := m.Called(ctx, lot)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) GetLot(ctx context.Context, lotID, accountHolderID int64) (dbModel.Lot, error) {
	args := m.Called(ctx, lotID, accountHolderID)
	return args.Get(0).(dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetLotForUpdate(ctx context.Context, lotID, accountHolderID int64) (dbModel.Lot, error) {
	args := m.Called(ctx, lotID, accountHolderID)
	return args.Get(0).(dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetBuyLotForUpdate(ctx context.Context, lotID int64, ticker string, accountHolderID int64) (dbModel.Lot, error) {
	args := m.Called(ctx, lotID, ticker, accountHolderID)
	return args.Get(0).(dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetOpenBuyLotsForUpdate(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Lot, error) {
	args := m.Called(ctx, ticker, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetOpenBuyLots(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Lot, error) {
	args := m.Called(ctx, ticker, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetOpenBuyLotsForHolder(ctx context.Context, accountHolderID int64) ([]dbModel.Lot, error) {
	args := m.Called(ctx, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Lot), args.Error(1)
}

func (m *MockRepository) GetDividends(ctx context.Context, accountHolderID int64) ([]dbModel.Lot, error) {
	args := m.Called(ctx, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Lot), args.Error(1)
}

func (m *MockRepository) UpdateQuantityRemaining(ctx context.Context, lotID int64, quantityRemaining decimal.Decimal) error {
	args := m.Called(ctx, lotID, quantityRemaining)
	return args.Error(0)
}

func (m *MockRepository) ApplySplitToLot(ctx context.Context, lotID int64, quantityRemaining, price, originalQuantity decimal.Decimal) error {
	args := m.Called(ctx, lotID, quantityRemaining, price, originalQuantity)
	return args.Error(0)
}

func (m *MockRepository) UpdateLotFields(ctx context.Context, lotID, accountHolderID int64, patch dbModel.LotUpdate) error {
	args := m.Called(ctx, lotID, accountHolderID, patch)
	return args.Error(0)
}

func (m *MockRepository) DeleteLot(ctx context.Context, lotID, accountHolderID int64) error {
	args := m.Called(ctx, lotID, accountHolderID)
	return args.Error(0)
}

func (m *MockRepository) CountSellsForBuy(ctx context.Context, buyLotID int64) (int, error) {
	args := m.Called(ctx, buyLotID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) GetSalesForBuyLots(ctx context.Context, buyLotIDs []int64, accountHolderID int64) ([]dbModel.Sale, error) {
	args := m.Called(ctx, buyLotIDs, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Sale), args.Error(1)
}

func (m *MockRepository) GetSalesForTicker(ctx context.Context, ticker string, accountHolderID int64) ([]dbModel.Sale, error) {
	args := m.Called(ctx, ticker, accountHolderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Sale), args.Error(1)
}

func (m *MockRepository) GetSalesForPeriod(ctx context.Context, accountHolderID int64, from, to time.Time) ([]dbModel.Sale, error) {
	args := m.Called(ctx, accountHolderID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dbModel.Sale), args.Error(1)
}

func (m *MockRepository) GetDistinctOpenTickers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) AddWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) error {
	args := m.Called(ctx, accountHolderID, ticker)
	return args.Error(0)
}

func (m *MockRepository) ArchiveWatchlistItem(ctx context.Context, accountHolderID int64, ticker string) error {
	args := m.Called(ctx, accountHolderID, ticker)
	return args.Error(0)
}

// MockCache is a mock implementation of Cache for testing.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(priceModel.PriceInfo), args.Error(1)
}

func (m *MockCache) SetPrice(ctx context.Context, price priceModel.PriceInfo) error {
	args := m.Called(ctx, price)
	return args.Error(0)
}

func (m *MockCache) SetPrices(ctx context.Context, prices []priceModel.PriceInfo) error {
	args := m.Called(ctx, prices)
	return args.Error(0)
}

// MockPriceApi is a mock implementation of PriceApi for testing.
type MockPriceApi struct {
	mock.Mock
}

func (m *MockPriceApi) GetPrice(ctx context.Context, ticker string) (priceModel.PriceInfo, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(priceModel.PriceInfo), args.Error(1)
}

func (m *MockPriceApi) GetPrices(ctx context.Context, tickers []string) (map[string]priceModel.PriceInfo, error) {
	args := m.Called(ctx, tickers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]priceModel.PriceInfo), args.Error(1)
}

func newTestService(repo *MockRepository, cache *MockCache, priceApi *MockPriceApi) *LotService {
	return New(&config.Config{}, repo, cache, priceApi, nil, nil)
}

func decEq(expected decimal.Decimal) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(expected)
	})
}

var testDate = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestCreateBuy_OpensLotWithFullRemaining(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	req := model.BuyRequest{
		Ticker:          "aapl",
		Exchange:        "NASDAQ",
		Quantity:        decimal.NewFromInt(10),
		Price:           decimal.NewFromInt(150),
		TransactionDate: testDate,
		AccountHolderID: 1,
	}

	mockRepo.On("InsertLot", ctx, mock.MatchedBy(func(lot dbModel.Lot) bool {
		return lot.Ticker == "AAPL" &&
			lot.TransactionType == "BUY" &&
			lot.Quantity.Equal(decimal.NewFromInt(10)) &&
			lot.OriginalQuantity.Valid && lot.OriginalQuantity.Decimal.Equal(decimal.NewFromInt(10)) &&
			lot.QuantityRemaining.Valid && lot.QuantityRemaining.Decimal.Equal(decimal.NewFromInt(10))
	})).Return(int64(42), nil)

	mockRepo.On("GetLot", ctx, int64(42), int64(1)).Return(dbModel.Lot{
		TransactionID:     42,
		Ticker:            "AAPL",
		Exchange:          "NASDAQ",
		TransactionType:   "BUY",
		Quantity:          decimal.NewFromInt(10),
		Price:             decimal.NewFromInt(150),
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		AccountHolderID:   1,
		TransactionDate:   testDate,
	}, nil)

	mockRepo.On("ArchiveWatchlistItem", mock.Anything, int64(1), "AAPL").Return(nil).Maybe()

	lot, err := srv.CreateBuy(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, int64(42), lot.ID)
	assert.Equal(t, model.TypeBuy, lot.Type)
	assert.True(t, lot.QuantityRemaining.Equal(decimal.NewFromInt(10)))
	assert.True(t, lot.OriginalQuantity.Equal(decimal.NewFromInt(10)))
	mockRepo.AssertExpectations(t)
}

func TestCreateBuy_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	valid := model.BuyRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Quantity:        decimal.NewFromInt(10),
		Price:           decimal.NewFromInt(150),
		TransactionDate: testDate,
		AccountHolderID: 1,
	}

	tests := []struct {
		name   string
		mutate func(req *model.BuyRequest)
	}{
		{"empty ticker", func(req *model.BuyRequest) { req.Ticker = "   " }},
		{"empty exchange", func(req *model.BuyRequest) { req.Exchange = "" }},
		{"zero quantity", func(req *model.BuyRequest) { req.Quantity = decimal.Zero }},
		{"negative price", func(req *model.BuyRequest) { req.Price = decimal.NewFromInt(-5) }},
		{"zero date", func(req *model.BuyRequest) { req.TransactionDate = time.Time{} }},
		{"missing holder", func(req *model.BuyRequest) { req.AccountHolderID = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			srv := newTestService(mockRepo, nil, nil)

			req := valid
			tc.mutate(&req)

			_, err := srv.CreateBuy(ctx, req)

			assert.ErrorIs(t, err, service.ErrValidation)
			mockRepo.AssertNotCalled(t, "InsertLot", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateSell_SingleLot(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	parent := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		Exchange:          "NASDAQ",
		TransactionType:   "BUY",
		Quantity:          decimal.NewFromInt(10),
		Price:             decimal.NewFromInt(150),
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(1), "AAPL", int64(1)).Return(parent, nil)
	mockRepo.On("UpdateQuantityRemaining", ctx, int64(1), decEq(decimal.NewFromInt(6))).Return(nil)
	mockRepo.On("InsertLot", ctx, mock.MatchedBy(func(lot dbModel.Lot) bool {
		return lot.TransactionType == "SELL" &&
			lot.Quantity.Equal(decimal.NewFromInt(4)) &&
			lot.Price.Equal(decimal.NewFromInt(160)) &&
			lot.ParentBuyID.Valid && lot.ParentBuyID.Int64 == 1
	})).Return(int64(2), nil)
	mockRepo.On("GetLot", ctx, int64(2), int64(1)).Return(dbModel.Lot{
		TransactionID:   2,
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		TransactionType: "SELL",
		Quantity:        decimal.NewFromInt(4),
		Price:           decimal.NewFromInt(160),
		ParentBuyID:     toNullInt64(ptrInt64(1)),
		AccountHolderID: 1,
		TransactionDate: testDate,
	}, nil)

	lots, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 1, Quantity: decimal.NewFromInt(4)},
		},
	})

	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, model.TypeSell, lots[0].Type)
	assert.True(t, lots[0].Quantity.Equal(decimal.NewFromInt(4)))
	mockRepo.AssertExpectations(t)
}

func TestCreateSell_OverSellRejected(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	parent := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(2)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(1), "AAPL", int64(1)).Return(parent, nil)

	_, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 1, Quantity: decimal.NewFromInt(3)},
		},
	})

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "UpdateQuantityRemaining", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "InsertLot", mock.Anything, mock.Anything)
}

func TestCreateSell_MultiLotBatchRejectedAsWhole(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	lotA := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(2)),
		AccountHolderID:   1,
	}
	lotB := dbModel.Lot{
		TransactionID:     2,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(5)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(1), "AAPL", int64(1)).Return(lotA, nil)
	mockRepo.On("GetBuyLotForUpdate", ctx, int64(2), "AAPL", int64(1)).Return(lotB, nil)

	// lot 1 can only cover 2 of the requested 3: the whole request fails and
	// lot 2 is untouched even though its own allocation fits
	_, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 1, Quantity: decimal.NewFromInt(3)},
			{ParentBuyID: 2, Quantity: decimal.NewFromInt(2)},
		},
	})

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "UpdateQuantityRemaining", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "InsertLot", mock.Anything, mock.Anything)
}

func TestCreateSell_AllocationsAgainstSameLotAreSummed(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	parent := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(1), "AAPL", int64(1)).Return(parent, nil)

	// 6 + 5 = 11 > 10 even though each allocation fits on its own
	_, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 1, Quantity: decimal.NewFromInt(6)},
			{ParentBuyID: 1, Quantity: decimal.NewFromInt(5)},
		},
	})

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "UpdateQuantityRemaining", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSell_RemainingWithinEpsilonClampsToZero(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	parent := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(5)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(1), "AAPL", int64(1)).Return(parent, nil)
	mockRepo.On("UpdateQuantityRemaining", ctx, int64(1), decEq(decimal.Zero)).Return(nil)
	mockRepo.On("InsertLot", ctx, mock.Anything).Return(int64(2), nil)
	mockRepo.On("GetLot", ctx, int64(2), int64(1)).Return(dbModel.Lot{TransactionID: 2, TransactionType: "SELL", AccountHolderID: 1}, nil)

	// 5.000004 exceeds the remaining 5 by less than the tolerance, so the
	// sale goes through and the lot closes at exactly zero
	_, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 1, Quantity: decimal.RequireFromString("5.000004")},
		},
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestCreateSell_UnknownBuyLot(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	mockRepo.On("GetBuyLotForUpdate", ctx, int64(99), "AAPL", int64(1)).Return(dbModel.Lot{}, repository.ErrNotFound)

	_, err := srv.CreateSell(ctx, model.SellRequest{
		Ticker:          "AAPL",
		Exchange:        "NASDAQ",
		Price:           decimal.NewFromInt(160),
		TransactionDate: testDate,
		AccountHolderID: 1,
		Allocations: []model.SellAllocation{
			{ParentBuyID: 99, Quantity: decimal.NewFromInt(1)},
		},
	})

	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestApplySplit_RescalesOpenLotsAndPreservesValue(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	open := dbModel.Lot{
		TransactionID:     1,
		Ticker:            "AAPL",
		TransactionType:   "BUY",
		Price:             decimal.NewFromInt(150),
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetOpenBuyLotsForUpdate", ctx, "AAPL", int64(1)).Return([]dbModel.Lot{open}, nil)
	mockRepo.On("ApplySplitToLot", ctx, int64(1),
		decEq(decimal.NewFromInt(12)),
		decEq(decimal.NewFromInt(75)),
		decEq(decimal.NewFromInt(20)),
	).Return(nil)
	mockRepo.On("InsertLot", ctx, mock.MatchedBy(func(lot dbModel.Lot) bool {
		return lot.TransactionType == "SPLIT" &&
			lot.Quantity.Equal(decimal.NewFromInt(2)) &&
			lot.Price.Equal(decimal.NewFromInt(1)) &&
			lot.Exchange == ""
	})).Return(int64(3), nil)

	err := srv.ApplySplit(ctx, model.SplitRequest{
		Ticker:          "AAPL",
		SplitFrom:       decimal.NewFromInt(1),
		SplitTo:         decimal.NewFromInt(2),
		SplitDate:       testDate,
		AccountHolderID: 1,
	})

	require.NoError(t, err)
	// 6 * 150 before, 12 * 75 after
	assert.True(t, decimal.NewFromInt(12).Mul(decimal.NewFromInt(75)).Equal(decimal.NewFromInt(6).Mul(decimal.NewFromInt(150))))
	mockRepo.AssertExpectations(t)
}

func TestApplySplit_NoOpenLotsStillWritesAuditRow(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	mockRepo.On("GetOpenBuyLotsForUpdate", ctx, "MSFT", int64(1)).Return([]dbModel.Lot{}, nil)
	mockRepo.On("InsertLot", ctx, mock.MatchedBy(func(lot dbModel.Lot) bool {
		return lot.TransactionType == "SPLIT" && lot.Ticker == "MSFT"
	})).Return(int64(5), nil)

	err := srv.ApplySplit(ctx, model.SplitRequest{
		Ticker:          "MSFT",
		SplitFrom:       decimal.NewFromInt(1),
		SplitTo:         decimal.NewFromInt(4),
		SplitDate:       testDate,
		AccountHolderID: 1,
	})

	require.NoError(t, err)
	mockRepo.AssertNotCalled(t, "ApplySplitToLot", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertExpectations(t)
}

func TestApplySplit_InvalidRatio(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	err := srv.ApplySplit(ctx, model.SplitRequest{
		Ticker:          "AAPL",
		SplitFrom:       decimal.Zero,
		SplitTo:         decimal.NewFromInt(2),
		SplitDate:       testDate,
		AccountHolderID: 1,
	})

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "GetOpenBuyLotsForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateLot_IncreaseOriginalQuantityGrowsRemaining(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	lot := dbModel.Lot{
		TransactionID:     1,
		TransactionType:   "BUY",
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(lot, nil)
	mockRepo.On("UpdateLotFields", ctx, int64(1), int64(1), mock.MatchedBy(func(upd dbModel.LotUpdate) bool {
		return upd.OriginalQuantity != nil && upd.OriginalQuantity.Equal(decimal.NewFromInt(12)) &&
			upd.QuantityRemaining != nil && upd.QuantityRemaining.Equal(decimal.NewFromInt(8))
	})).Return(nil)

	newOriginal := decimal.NewFromInt(12)
	err := srv.UpdateLot(ctx, 1, model.LotPatch{
		AccountHolderID:  1,
		OriginalQuantity: &newOriginal,
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestUpdateLot_DecreaseOnConsumedLotLeavesRemaining(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	lot := dbModel.Lot{
		TransactionID:     1,
		TransactionType:   "BUY",
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(lot, nil)
	mockRepo.On("UpdateLotFields", ctx, int64(1), int64(1), mock.MatchedBy(func(upd dbModel.LotUpdate) bool {
		return upd.OriginalQuantity != nil && upd.OriginalQuantity.Equal(decimal.NewFromInt(8)) &&
			upd.QuantityRemaining == nil
	})).Return(nil)

	newOriginal := decimal.NewFromInt(8)
	err := srv.UpdateLot(ctx, 1, model.LotPatch{
		AccountHolderID:  1,
		OriginalQuantity: &newOriginal,
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestUpdateLot_DecreaseOnUntouchedLotShrinksRemaining(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	lot := dbModel.Lot{
		TransactionID:     1,
		TransactionType:   "BUY",
		OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(lot, nil)
	mockRepo.On("UpdateLotFields", ctx, int64(1), int64(1), mock.MatchedBy(func(upd dbModel.LotUpdate) bool {
		return upd.QuantityRemaining != nil && upd.QuantityRemaining.Equal(decimal.NewFromInt(8))
	})).Return(nil)

	newOriginal := decimal.NewFromInt(8)
	err := srv.UpdateLot(ctx, 1, model.LotPatch{
		AccountHolderID:  1,
		OriginalQuantity: &newOriginal,
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestUpdateLot_SellQuantityAndPriceImmutable(t *testing.T) {
	ctx := context.Background()

	sell := dbModel.Lot{
		TransactionID:   2,
		TransactionType: "SELL",
		Quantity:        decimal.NewFromInt(4),
		Price:           decimal.NewFromInt(160),
		ParentBuyID:     toNullInt64(ptrInt64(1)),
		AccountHolderID: 1,
	}

	newQuantity := decimal.NewFromInt(5)
	newPrice := decimal.NewFromInt(165)

	tests := []struct {
		name  string
		patch model.LotPatch
	}{
		{"quantity patch", model.LotPatch{AccountHolderID: 1, Quantity: &newQuantity}},
		{"price patch", model.LotPatch{AccountHolderID: 1, Price: &newPrice}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			srv := newTestService(mockRepo, nil, nil)

			mockRepo.On("GetLotForUpdate", ctx, int64(2), int64(1)).Return(sell, nil)

			err := srv.UpdateLot(ctx, 2, tc.patch)

			assert.ErrorIs(t, err, service.ErrValidation)
			mockRepo.AssertNotCalled(t, "UpdateLotFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateLot_SellLinkedFieldsStayPatchable(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	sell := dbModel.Lot{
		TransactionID:   2,
		TransactionType: "SELL",
		Quantity:        decimal.NewFromInt(4),
		ParentBuyID:     toNullInt64(ptrInt64(1)),
		AccountHolderID: 1,
	}

	journalID := int64(77)

	mockRepo.On("GetLotForUpdate", ctx, int64(2), int64(1)).Return(sell, nil)
	mockRepo.On("UpdateLotFields", ctx, int64(2), int64(1), mock.MatchedBy(func(upd dbModel.LotUpdate) bool {
		return upd.LinkedJournalID != nil && *upd.LinkedJournalID == 77 &&
			upd.Quantity == nil && upd.Price == nil
	})).Return(nil)

	err := srv.UpdateLot(ctx, 2, model.LotPatch{
		AccountHolderID: 1,
		LinkedJournalID: &journalID,
	})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestUpdateLot_OriginalQuantityOnSellRejected(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	lot := dbModel.Lot{
		TransactionID:   1,
		TransactionType: "SELL",
		AccountHolderID: 1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(lot, nil)

	newOriginal := decimal.NewFromInt(8)
	err := srv.UpdateLot(ctx, 1, model.LotPatch{
		AccountHolderID:  1,
		OriginalQuantity: &newOriginal,
	})

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "UpdateLotFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteLot_SellRestoresParentRemaining(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	sell := dbModel.Lot{
		TransactionID:   2,
		TransactionType: "SELL",
		Quantity:        decimal.NewFromInt(4),
		ParentBuyID:     toNullInt64(ptrInt64(1)),
		AccountHolderID: 1,
	}
	parent := dbModel.Lot{
		TransactionID:     1,
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(2), int64(1)).Return(sell, nil)
	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(parent, nil)
	mockRepo.On("UpdateQuantityRemaining", ctx, int64(1), decEq(decimal.NewFromInt(10))).Return(nil)
	mockRepo.On("DeleteLot", ctx, int64(2), int64(1)).Return(nil)

	err := srv.DeleteLot(ctx, 2, 1)

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestDeleteLot_BuyWithDependentSellsRejected(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	buy := dbModel.Lot{
		TransactionID:     1,
		TransactionType:   "BUY",
		QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
		AccountHolderID:   1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(1), int64(1)).Return(buy, nil)
	mockRepo.On("CountSellsForBuy", ctx, int64(1)).Return(2, nil)

	err := srv.DeleteLot(ctx, 1, 1)

	assert.ErrorIs(t, err, service.ErrConflict)
	mockRepo.AssertNotCalled(t, "DeleteLot", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteLot_DividendDeletesUnconditionally(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	dividend := dbModel.Lot{
		TransactionID:   3,
		TransactionType: "DIVIDEND",
		AccountHolderID: 1,
	}

	mockRepo.On("GetLotForUpdate", ctx, int64(3), int64(1)).Return(dividend, nil)
	mockRepo.On("DeleteLot", ctx, int64(3), int64(1)).Return(nil)

	err := srv.DeleteLot(ctx, 3, 1)

	require.NoError(t, err)
	mockRepo.AssertNotCalled(t, "CountSellsForBuy", mock.Anything, mock.Anything)
	mockRepo.AssertExpectations(t)
}

func TestDeleteLot_NotFound(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	mockRepo.On("GetLotForUpdate", ctx, int64(404), int64(1)).Return(dbModel.Lot{}, repository.ErrNotFound)

	err := srv.DeleteLot(ctx, 404, 1)

	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestGetRealizedPLSummary_AggregatesByTickerAndExchange(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	sales := []dbModel.Sale{
		{
			TransactionID: 2,
			Ticker:        "AAPL",
			Exchange:      "NASDAQ",
			Quantity:      decimal.NewFromInt(4),
			Price:         decimal.NewFromInt(160),
			ParentBuyID:   1,
			CostBasis:     decimal.NewNullDecimal(decimal.NewFromInt(150)),
		},
		{
			// parent doesn't resolve for this holder: contributes zero
			TransactionID: 5,
			Ticker:        "MSFT",
			Exchange:      "NASDAQ",
			Quantity:      decimal.NewFromInt(2),
			Price:         decimal.NewFromInt(400),
			ParentBuyID:   4,
		},
	}

	mockRepo.On("GetSalesForPeriod", ctx, int64(1), from, to).Return(sales, nil)

	summary, err := srv.GetRealizedPLSummary(ctx, 1, from, to)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.SalesCount)
	assert.True(t, summary.Total.Equal(decimal.NewFromInt(40)), "total %s", summary.Total)
	assert.True(t, summary.ByTicker["AAPL"].Equal(decimal.NewFromInt(40)))
	assert.True(t, summary.ByTicker["MSFT"].Equal(decimal.Zero))
	assert.True(t, summary.ByExchange["NASDAQ"].Equal(decimal.NewFromInt(40)))
	mockRepo.AssertExpectations(t)
}

func TestGetRealizedPLSummary_InvalidPeriod(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	from := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := srv.GetRealizedPLSummary(ctx, 1, from, to)

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "GetSalesForPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListSalesForLot_ComputesRealizedPL(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	sales := []dbModel.Sale{
		{
			TransactionID: 2,
			Ticker:        "AAPL",
			Exchange:      "NASDAQ",
			Quantity:      decimal.NewFromInt(4),
			Price:         decimal.NewFromInt(160),
			ParentBuyID:   1,
			CostBasis:     decimal.NewNullDecimal(decimal.NewFromInt(150)),
		},
	}

	mockRepo.On("GetSalesForBuyLots", ctx, []int64{1}, int64(1)).Return(sales, nil)

	result, err := srv.ListSalesForLot(ctx, 1, 1)

	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.True(t, result[0].HasCostBasis)
	assert.True(t, result[0].RealizedPL.Equal(decimal.NewFromInt(40)), "realized PL %s", result[0].RealizedPL)
	mockRepo.AssertExpectations(t)
}

func TestListSalesForTicker(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	sales := []dbModel.Sale{
		{
			TransactionID: 2,
			Ticker:        "AAPL",
			Exchange:      "NASDAQ",
			Quantity:      decimal.NewFromInt(4),
			Price:         decimal.NewFromInt(160),
			ParentBuyID:   1,
			CostBasis:     decimal.NewNullDecimal(decimal.NewFromInt(150)),
		},
		{
			TransactionID: 7,
			Ticker:        "AAPL",
			Exchange:      "NASDAQ",
			Quantity:      decimal.NewFromInt(2),
			Price:         decimal.NewFromInt(170),
			ParentBuyID:   3,
			CostBasis:     decimal.NewNullDecimal(decimal.NewFromInt(155)),
		},
	}

	mockRepo.On("GetSalesForTicker", ctx, "AAPL", int64(1)).Return(sales, nil)

	result, err := srv.ListSalesForTicker(ctx, "aapl", 1)

	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.True(t, result[0].RealizedPL.Equal(decimal.NewFromInt(40)))
	assert.True(t, result[1].RealizedPL.Equal(decimal.NewFromInt(30)))
	mockRepo.AssertExpectations(t)
}

func TestListSalesForTicker_MissingHolder(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	_, err := srv.ListSalesForTicker(ctx, "AAPL", 0)

	assert.ErrorIs(t, err, service.ErrValidation)
	mockRepo.AssertNotCalled(t, "GetSalesForTicker", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetPositionSummary_WithMarketPrice(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	mockCache := new(MockCache)
	srv := newTestService(mockRepo, mockCache, nil)

	open := []dbModel.Lot{
		{
			TransactionID:     1,
			Ticker:            "AAPL",
			TransactionType:   "BUY",
			Price:             decimal.NewFromInt(150),
			OriginalQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
			QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
			AccountHolderID:   1,
		},
	}

	mockRepo.On("GetOpenBuyLots", ctx, "AAPL", int64(1)).Return(open, nil)
	mockCache.On("GetPrice", ctx, "AAPL").Return(priceModel.PriceInfo{Ticker: "AAPL", Price: decimal.NewFromInt(160)}, nil)

	position, err := srv.GetPositionSummary(ctx, "AAPL", 1)

	require.NoError(t, err)
	assert.True(t, position.TotalQuantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, position.CostValue.Equal(decimal.NewFromInt(900)))
	assert.True(t, position.MarketValue.Equal(decimal.NewFromInt(960)))
	assert.True(t, position.UnrealizedPL.Equal(decimal.NewFromInt(60)))
	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestGetPositionSummary_MissingPriceDegrades(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	mockCache := new(MockCache)
	mockPriceApi := new(MockPriceApi)
	srv := newTestService(mockRepo, mockCache, mockPriceApi)

	open := []dbModel.Lot{
		{
			TransactionID:     1,
			Ticker:            "AAPL",
			TransactionType:   "BUY",
			Price:             decimal.NewFromInt(150),
			QuantityRemaining: decimal.NewNullDecimal(decimal.NewFromInt(6)),
			AccountHolderID:   1,
		},
	}

	mockRepo.On("GetOpenBuyLots", ctx, "AAPL", int64(1)).Return(open, nil)
	mockCache.On("GetPrice", ctx, "AAPL").Return(priceModel.PriceInfo{}, errors.New("cache miss"))
	mockPriceApi.On("GetPrice", ctx, "AAPL").Return(priceModel.PriceInfo{}, externalApi.ErrNotFound)

	position, err := srv.GetPositionSummary(ctx, "AAPL", 1)

	require.NoError(t, err)
	assert.True(t, position.CostValue.Equal(decimal.NewFromInt(900)))
	assert.True(t, position.MarketValue.IsZero())
	mockRepo.AssertExpectations(t)
}

func TestFillPriceCache(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	mockCache := new(MockCache)
	mockPriceApi := new(MockPriceApi)
	srv := newTestService(mockRepo, mockCache, mockPriceApi)

	prices := map[string]priceModel.PriceInfo{
		"AAPL": {Ticker: "AAPL", Price: decimal.NewFromInt(160)},
	}

	mockRepo.On("GetDistinctOpenTickers", ctx).Return([]string{"AAPL"}, nil)
	mockPriceApi.On("GetPrices", ctx, []string{"AAPL"}).Return(prices, nil)
	mockCache.On("SetPrices", ctx, []priceModel.PriceInfo{{Ticker: "AAPL", Price: decimal.NewFromInt(160)}}).Return(nil)

	err := srv.FillPriceCache(ctx)

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
	mockPriceApi.AssertExpectations(t)
}

func TestFillPriceCache_NoOpenTickers(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	mockPriceApi := new(MockPriceApi)
	srv := newTestService(mockRepo, nil, mockPriceApi)

	mockRepo.On("GetDistinctOpenTickers", ctx).Return([]string{}, nil)

	err := srv.FillPriceCache(ctx)

	require.NoError(t, err)
	mockPriceApi.AssertNotCalled(t, "GetPrices", mock.Anything, mock.Anything)
}

func TestAddToWatchlist(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	mockRepo.On("AddWatchlistItem", ctx, int64(1), "AAPL").Return(nil)

	err := srv.AddToWatchlist(ctx, 1, "aapl ")

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestAddToWatchlist_DuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockRepository)
	srv := newTestService(mockRepo, nil, nil)

	mockRepo.On("AddWatchlistItem", ctx, int64(1), "AAPL").Return(repository.ErrAlreadyExists)

	err := srv.AddToWatchlist(ctx, 1, "AAPL")

	assert.ErrorIs(t, err, service.ErrConflict)
}

func ptrInt64(v int64) *int64 {
	return &v
}
