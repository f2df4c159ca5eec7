package dbConverter

import (
	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/internal/model/dbModel"
	"github.com/shopspring/decimal"
)

func ConvertLot(dbLot dbModel.Lot) model.Lot {
	lot := model.Lot{
		ID:              dbLot.TransactionID,
		Ticker:          dbLot.Ticker,
		Exchange:        dbLot.Exchange,
		Type:            model.TransactionType(dbLot.TransactionType),
		Quantity:        dbLot.Quantity,
		Price:           dbLot.Price,
		AccountHolderID: dbLot.AccountHolderID,
		TransactionDate: dbLot.TransactionDate,
		CreatedAt:       dbLot.DtCreate,
	}

	if dbLot.OriginalQuantity.Valid {
		lot.OriginalQuantity = dbLot.OriginalQuantity.Decimal
	}
	if dbLot.QuantityRemaining.Valid {
		lot.QuantityRemaining = dbLot.QuantityRemaining.Decimal
	}
	if dbLot.ParentBuyID.Valid {
		parentID := dbLot.ParentBuyID.Int64
		lot.ParentBuyID = &parentID
	}
	if dbLot.AdviceSourceID.Valid {
		adviceID := dbLot.AdviceSourceID.Int64
		lot.AdviceSourceID = &adviceID
	}
	if dbLot.LinkedJournalID.Valid {
		journalID := dbLot.LinkedJournalID.Int64
		lot.LinkedJournalID = &journalID
	}

	return lot
}

func ConvertLots(dbLots []dbModel.Lot) []model.Lot {
	lots := make([]model.Lot, 0, len(dbLots))
	for _, dbLot := range dbLots {
		lots = append(lots, ConvertLot(dbLot))
	}
	return lots
}

func ConvertSale(dbSale dbModel.Sale) model.Sale {
	sale := model.Sale{
		ID:              dbSale.TransactionID,
		Ticker:          dbSale.Ticker,
		Exchange:        dbSale.Exchange,
		Quantity:        dbSale.Quantity,
		Price:           dbSale.Price,
		ParentBuyID:     dbSale.ParentBuyID,
		AccountHolderID: dbSale.AccountHolderID,
		TransactionDate: dbSale.TransactionDate,
	}

	if dbSale.CostBasis.Valid {
		sale.CostBasis = dbSale.CostBasis.Decimal
		sale.HasCostBasis = true
		sale.RealizedPL = dbSale.Price.Sub(dbSale.CostBasis.Decimal).Mul(dbSale.Quantity)
	} else {
		// cross-holder or orphaned parent: keep the row, book zero P/L
		sale.RealizedPL = decimal.Zero
	}

	return sale
}

func ConvertSales(dbSales []dbModel.Sale) []model.Sale {
	sales := make([]model.Sale, 0, len(dbSales))
	for _, dbSale := range dbSales {
		sales = append(sales, ConvertSale(dbSale))
	}
	return sales
}
