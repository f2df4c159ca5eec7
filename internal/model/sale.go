package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a SELL row joined with its parent BUY lot's price. RealizedPL is
// derived on read: (sale price - cost basis) * quantity. When the parent lot
// can't be resolved HasCostBasis is false and RealizedPL is zero.
type Sale struct {
	ID              int64           `json:"id"`
	Ticker          string          `json:"ticker"`
	Exchange        string          `json:"exchange"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	ParentBuyID     int64           `json:"parentBuyId"`
	AccountHolderID int64           `json:"accountHolderId"`
	TransactionDate time.Time       `json:"transactionDate"`
	CostBasis       decimal.Decimal `json:"costBasis"`
	HasCostBasis    bool            `json:"hasCostBasis"`
	RealizedPL      decimal.Decimal `json:"realizedPl"`
}

type RealizedPLSummary struct {
	From       time.Time                  `json:"from"`
	To         time.Time                  `json:"to"`
	Total      decimal.Decimal            `json:"total"`
	ByTicker   map[string]decimal.Decimal `json:"byTicker"`
	ByExchange map[string]decimal.Decimal `json:"byExchange"`
	SalesCount int                        `json:"salesCount"`
}

// Position is the read-side view of one ticker's open lots enriched with the
// current market price.
type Position struct {
	Ticker        string          `json:"ticker"`
	OpenLots      []Lot           `json:"openLots"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	CostValue     decimal.Decimal `json:"costValue"`
	MarketPrice   decimal.Decimal `json:"marketPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPL  decimal.Decimal `json:"unrealizedPl"`
}

type PortfolioReport struct {
	AccountHolderID int64      `json:"accountHolderId"`
	Positions       []Position `json:"positions"`
	Sales           []Sale     `json:"sales"`
	Dividends       []Lot      `json:"dividends"`
}
