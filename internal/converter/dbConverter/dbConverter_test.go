package dbConverter

import (
	"testing"

	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertLot_NullableFields(t *testing.T) {
	dbLot := dbModel.Lot{
		TransactionID:   3,
		Ticker:          "AAPL",
		TransactionType: "DIVIDEND",
		Quantity:        decimal.NewFromInt(10),
		Price:           decimal.RequireFromString("0.24"),
		AccountHolderID: 1,
	}

	lot := ConvertLot(dbLot)

	assert.Equal(t, model.TypeDividend, lot.Type)
	assert.Nil(t, lot.ParentBuyID)
	assert.Nil(t, lot.AdviceSourceID)
	assert.True(t, lot.OriginalQuantity.IsZero())
	assert.True(t, lot.QuantityRemaining.IsZero())
}

func TestConvertSale_RealizedPL(t *testing.T) {
	dbSale := dbModel.Sale{
		TransactionID: 2,
		Ticker:        "AAPL",
		Quantity:      decimal.NewFromInt(4),
		Price:         decimal.NewFromInt(160),
		ParentBuyID:   1,
		CostBasis:     decimal.NewNullDecimal(decimal.NewFromInt(150)),
	}

	sale := ConvertSale(dbSale)

	require.True(t, sale.HasCostBasis)
	assert.True(t, sale.RealizedPL.Equal(decimal.NewFromInt(40)), "realized PL %s", sale.RealizedPL)
}

func TestConvertSale_MissingCostBasisBooksZero(t *testing.T) {
	dbSale := dbModel.Sale{
		TransactionID: 5,
		Ticker:        "MSFT",
		Quantity:      decimal.NewFromInt(2),
		Price:         decimal.NewFromInt(400),
		ParentBuyID:   4,
	}

	sale := ConvertSale(dbSale)

	assert.False(t, sale.HasCostBasis)
	assert.True(t, sale.RealizedPL.IsZero())
	assert.True(t, sale.CostBasis.IsZero())
}
