package xlsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarev/lot_ledger/internal/model"
	"github.com/mkarev/lot_ledger/utils"
	"github.com/xuri/excelize/v2"
)

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

func (g *XLSXGenerator) Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	if len(report.Positions) == 0 && len(report.Sales) == 0 && len(report.Dividends) == 0 {
		return nil, "", errors.New("empty report")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillPositionsSheet(f, report); err != nil {
		return nil, "", err
	}
	if err := g.fillSalesSheet(f, report); err != nil {
		return nil, "", err
	}
	if err := g.fillDividendsSheet(f, report); err != nil {
		return nil, "", err
	}

	// drop the default sheet
	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while Saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) headerStyle(f *excelize.File, color string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{color},
		},
	})
}

func (g *XLSXGenerator) fillPositionsSheet(f *excelize.File, report model.PortfolioReport) error {
	sheetName := "Open positions"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	if err := f.MergeCell(sheetName, "A1", "G1"); err != nil {
		return err
	}
	f.SetCellValue(sheetName, "A1", "Open positions")

	styleID, err := g.headerStyle(f, "#cfe2f3")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", styleID); err != nil {
		return err
	}

	_ = f.SetCellStr(sheetName, "A2", "ticker")
	_ = f.SetCellStr(sheetName, "B2", "lots")
	_ = f.SetCellStr(sheetName, "C2", "quantity")
	_ = f.SetCellStr(sheetName, "D2", "cost value")
	_ = f.SetCellStr(sheetName, "E2", "market price")
	_ = f.SetCellStr(sheetName, "F2", "market value")
	_ = f.SetCellStr(sheetName, "G2", "unrealized P/L")

	for i, position := range report.Positions {
		row := i + 3
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), position.Ticker)
		_ = f.SetCellInt(sheetName, fmt.Sprintf("B%d", row), int64(len(position.OpenLots)))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), position.TotalQuantity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), position.CostValue.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), position.MarketPrice.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), position.MarketValue.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), position.UnrealizedPL.InexactFloat64())
	}

	return nil
}

func (g *XLSXGenerator) fillSalesSheet(f *excelize.File, report model.PortfolioReport) error {
	sheetName := "Realized PL"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	if err := f.MergeCell(sheetName, "A1", "G1"); err != nil {
		return err
	}
	f.SetCellValue(sheetName, "A1", "Realized P/L")

	styleID, err := g.headerStyle(f, "#d9ead3")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", styleID); err != nil {
		return err
	}

	_ = f.SetCellStr(sheetName, "A2", "date")
	_ = f.SetCellStr(sheetName, "B2", "ticker")
	_ = f.SetCellStr(sheetName, "C2", "exchange")
	_ = f.SetCellStr(sheetName, "D2", "quantity")
	_ = f.SetCellStr(sheetName, "E2", "sale price")
	_ = f.SetCellStr(sheetName, "F2", "cost basis")
	_ = f.SetCellStr(sheetName, "G2", "realized P/L")

	for i, sale := range report.Sales {
		row := i + 3
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), sale.TransactionDate.Format("2006-01-02"))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", row), sale.Ticker)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", row), sale.Exchange)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), sale.Quantity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), sale.Price.InexactFloat64())
		if sale.HasCostBasis {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), sale.CostBasis.InexactFloat64())
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), sale.RealizedPL.InexactFloat64())
	}

	return nil
}

func (g *XLSXGenerator) fillDividendsSheet(f *excelize.File, report model.PortfolioReport) error {
	sheetName := "Dividends"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	if err := f.MergeCell(sheetName, "A1", "E1"); err != nil {
		return err
	}
	f.SetCellValue(sheetName, "A1", "Dividends")

	styleID, err := g.headerStyle(f, "#f9cb9c")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", styleID); err != nil {
		return err
	}

	_ = f.SetCellStr(sheetName, "A2", "date")
	_ = f.SetCellStr(sheetName, "B2", "ticker")
	_ = f.SetCellStr(sheetName, "C2", "exchange")
	_ = f.SetCellStr(sheetName, "D2", "units")
	_ = f.SetCellStr(sheetName, "E2", "amount per unit")

	for i, dividend := range report.Dividends {
		row := i + 3
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), dividend.TransactionDate.Format("2006-01-02"))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", row), dividend.Ticker)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", row), dividend.Exchange)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), dividend.Quantity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), dividend.Price.InexactFloat64())
	}

	return nil
}
