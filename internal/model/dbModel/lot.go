package dbModel

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Lot struct {
	TransactionID     int64               `db:"transaction_id"`
	Ticker            string              `db:"ticker"`
	Exchange          string              `db:"exchange"`
	TransactionType   string              `db:"transaction_type"`
	Quantity          decimal.Decimal     `db:"quantity"`
	Price             decimal.Decimal     `db:"price"`
	OriginalQuantity  decimal.NullDecimal `db:"original_quantity"`
	QuantityRemaining decimal.NullDecimal `db:"quantity_remaining"`
	ParentBuyID       sql.NullInt64       `db:"parent_buy_id"`
	AccountHolderID   int64               `db:"account_holder_id"`
	TransactionDate   time.Time           `db:"transaction_date"`
	AdviceSourceID    sql.NullInt64       `db:"advice_source_id"`
	LinkedJournalID   sql.NullInt64       `db:"linked_journal_id"`
	DtCreate          time.Time           `db:"dt_create"`
}

// LotUpdate carries the patchable columns of a lot. Nil fields are skipped
// via COALESCE in the UPDATE statement.
type LotUpdate struct {
	Exchange          *string
	Quantity          *decimal.Decimal
	Price             *decimal.Decimal
	OriginalQuantity  *decimal.Decimal
	QuantityRemaining *decimal.Decimal
	TransactionDate   *time.Time
	AdviceSourceID    *int64
	LinkedJournalID   *int64
}

// Sale is a SELL row with the parent BUY price joined in. CostBasis is null
// when the parent lot doesn't resolve for the same holder.
type Sale struct {
	TransactionID   int64               `db:"transaction_id"`
	Ticker          string              `db:"ticker"`
	Exchange        string              `db:"exchange"`
	Quantity        decimal.Decimal     `db:"quantity"`
	Price           decimal.Decimal     `db:"price"`
	ParentBuyID     int64               `db:"parent_buy_id"`
	AccountHolderID int64               `db:"account_holder_id"`
	TransactionDate time.Time           `db:"transaction_date"`
	CostBasis       decimal.NullDecimal `db:"cost_basis"`
}
