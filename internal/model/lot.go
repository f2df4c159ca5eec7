package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeBuy      TransactionType = "BUY"
	TypeSell     TransactionType = "SELL"
	TypeDividend TransactionType = "DIVIDEND"
	TypeSplit    TransactionType = "SPLIT"
)

// Lot is a single row of the transactions table. For BUY rows OriginalQuantity
// and QuantityRemaining are set; for SELL rows ParentBuyID references the
// consumed BUY lot; SPLIT rows encode the ratio as Quantity/Price (to/from).
type Lot struct {
	ID                int64           `json:"id"`
	Ticker            string          `json:"ticker"`
	Exchange          string          `json:"exchange"`
	Type              TransactionType `json:"type"`
	Quantity          decimal.Decimal `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	OriginalQuantity  decimal.Decimal `json:"originalQuantity"`
	QuantityRemaining decimal.Decimal `json:"quantityRemaining"`
	ParentBuyID       *int64          `json:"parentBuyId,omitempty"`
	AccountHolderID   int64           `json:"accountHolderId"`
	TransactionDate   time.Time       `json:"transactionDate"`
	AdviceSourceID    *int64          `json:"adviceSourceId,omitempty"`
	LinkedJournalID   *int64          `json:"linkedJournalId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type BuyRequest struct {
	Ticker          string
	Exchange        string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	TransactionDate time.Time
	AccountHolderID int64
	AdviceSourceID  *int64
	LinkedJournalID *int64
}

// SellAllocation is one lot drawn from by a SELL request.
type SellAllocation struct {
	ParentBuyID int64
	Quantity    decimal.Decimal
}

type SellRequest struct {
	Ticker          string
	Exchange        string
	Price           decimal.Decimal
	TransactionDate time.Time
	AccountHolderID int64
	Allocations     []SellAllocation
	LinkedJournalID *int64
}

type DividendRequest struct {
	Ticker          string
	Exchange        string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	TransactionDate time.Time
	AccountHolderID int64
}

type SplitRequest struct {
	Ticker          string
	SplitFrom       decimal.Decimal
	SplitTo         decimal.Decimal
	SplitDate       time.Time
	AccountHolderID int64
}

// LotPatch carries the mutable subset of a lot's fields. Nil pointers mean
// "leave as is".
type LotPatch struct {
	AccountHolderID  int64
	Exchange         *string
	Quantity         *decimal.Decimal
	Price            *decimal.Decimal
	OriginalQuantity *decimal.Decimal
	TransactionDate  *time.Time
	AdviceSourceID   *int64
	LinkedJournalID  *int64
}
