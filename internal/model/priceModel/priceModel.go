package priceModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceInfo struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
