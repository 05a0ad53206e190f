package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-execution-core/internal/orders"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

// ExcelReporter exports engine activity as a multi-sheet workbook
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// excelStyles holds the shared cell style ids for one workbook
type excelStyles struct {
	Header   int
	Currency int
	Percent  int
}

// WriteExecutionReportXLSX writes orders, child orders and portfolio
// snapshots into a workbook at path.
func (r *ExcelReporter) WriteExecutionReportXLSX(path string, orderStates []*orders.OrderExecutionState, portfolios []*risk.Portfolio) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const ordersSheet = "Orders"
	const childrenSheet = "Child Orders"
	const portfoliosSheet = "Portfolios"

	fx.SetSheetName(fx.GetSheetName(0), ordersSheet)
	fx.NewSheet(childrenSheet)
	fx.NewSheet(portfoliosSheet)

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeOrdersSheet(fx, ordersSheet, orderStates, styles); err != nil {
		return err
	}
	if err := r.writeChildrenSheet(fx, childrenSheet, orderStates, styles); err != nil {
		return err
	}
	if err := r.writePortfoliosSheet(fx, portfoliosSheet, portfolios, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 7,
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Percent, err = fx.NewStyle(&excelize.Style{
		NumFmt: 9,
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}

func (r *ExcelReporter) writeOrdersSheet(fx *excelize.File, sheet string, orderStates []*orders.OrderExecutionState, styles excelStyles) error {
	headers := []string{
		"Order ID", "Strategy", "Exchange", "Portfolio", "Symbol", "Side",
		"Status", "Filled Qty", "Avg Fill Price", "Children", "Created", "Completed", "Failure Reason",
	}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	for i, order := range orderStates {
		row := i + 2
		completed := ""
		if !order.CompletedAt.IsZero() {
			completed = order.CompletedAt.Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			order.OrderID,
			string(order.StrategyType),
			order.ExchangeID,
			order.PortfolioID,
			order.Symbol,
			string(order.Side),
			string(order.Status),
			order.FilledQty,
			order.AvgFillPrice,
			len(order.ChildOrders),
			order.CreatedAt.Format("2006-01-02 15:04:05"),
			completed,
			order.FailureReason,
		}
		if err := r.writeRow(fx, sheet, row, values); err != nil {
			return err
		}
	}

	fx.SetColWidth(sheet, "A", "A", 38)
	fx.SetColWidth(sheet, "K", "M", 20)
	return nil
}

func (r *ExcelReporter) writeChildrenSheet(fx *excelize.File, sheet string, orderStates []*orders.OrderExecutionState, styles excelStyles) error {
	headers := []string{
		"Order ID", "Exchange Order ID", "Exchange", "Label", "Side", "Type",
		"Quantity", "Price", "Filled Qty", "Avg Fill Price", "State", "Placed",
	}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	row := 2
	for _, order := range orderStates {
		for _, child := range order.ChildOrders {
			values := []interface{}{
				order.OrderID,
				child.ExchangeOrderID,
				child.ExchangeID,
				child.Label,
				string(child.Side),
				string(child.Type),
				child.Quantity,
				child.Price,
				child.FilledQuantity,
				child.AvgFillPrice,
				string(child.State),
				child.PlacedAt.Format("2006-01-02 15:04:05"),
			}
			if err := r.writeRow(fx, sheet, row, values); err != nil {
				return err
			}
			row++
		}
	}

	fx.SetColWidth(sheet, "A", "B", 38)
	fx.SetColWidth(sheet, "L", "L", 20)
	return nil
}

func (r *ExcelReporter) writePortfoliosSheet(fx *excelize.File, sheet string, portfolios []*risk.Portfolio, styles excelStyles) error {
	headers := []string{
		"Portfolio", "Cash", "Total Value", "Leverage", "Positions", "Gross Exposure", "Concentration",
	}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	for i, portfolio := range portfolios {
		row := i + 2
		values := []interface{}{
			portfolio.ID,
			portfolio.Cash,
			portfolio.TotalValue,
			portfolio.Leverage,
			len(portfolio.Positions),
			portfolio.GrossExposure(),
			portfolio.LargestPositionShare(),
		}
		if err := r.writeRow(fx, sheet, row, values); err != nil {
			return err
		}

		for _, col := range []string{"B", "C", "F"} {
			cell := fmt.Sprintf("%s%d", col, row)
			fx.SetCellStyle(sheet, cell, cell, styles.Currency)
		}
		cell := fmt.Sprintf("G%d", row)
		fx.SetCellStyle(sheet, cell, cell, styles.Percent)
	}

	fx.SetColWidth(sheet, "A", "A", 20)
	return nil
}

func (r *ExcelReporter) writeHeader(fx *excelize.File, sheet string, headers []string, styles excelStyles) error {
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.Header); err != nil {
			return err
		}
	}
	return nil
}

func (r *ExcelReporter) writeRow(fx *excelize.File, sheet string, row int, values []interface{}) error {
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}
