package reporting

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/money"
)

const statementSheet = "Statement"

var statementHeaders = []string{
	"Date", "Kind", "Source", "Reference", "Rate", "Amount", "Balance After", "Note",
}

// Statement writes the account's ledger entries, newest first, as an XLSX
// workbook.
func (s *Service) Statement(ctx context.Context, accountID uuid.UUID, w io.Writer) error {
	acc, err := s.account(ctx, accountID)
	if err != nil {
		return err
	}
	entries, err := s.entries.ListByAccountID(ctx, accountID, statementLimit)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	return WriteStatement(w, acc, entries)
}

func WriteStatement(w io.Writer, acc *models.Account, entries []*models.LedgerEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), statementSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	f.SetCellValue(statementSheet, "A1", "Account")
	f.SetCellValue(statementSheet, "B1", acc.Email)
	f.SetCellValue(statementSheet, "C1", "Balance")
	f.SetCellValue(statementSheet, "D1", money.Format(acc.BalanceCents))

	for i, h := range statementHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(statementSheet, cell, h)
		f.SetCellStyle(statementSheet, cell, cell, headerStyle)
	}

	for i, e := range entries {
		row := i + 4
		values := []any{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			e.Kind,
			e.Source,
			reference(e),
			rate(e),
			money.Format(e.AmountCents),
			money.Format(e.BalanceAfterCents),
			e.Note,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(statementSheet, cell, v)
		}
	}

	f.SetColWidth(statementSheet, "A", "A", 20)
	f.SetColWidth(statementSheet, "B", "C", 16)
	f.SetColWidth(statementSheet, "D", "D", 40)
	f.SetColWidth(statementSheet, "E", "G", 14)
	f.SetColWidth(statementSheet, "H", "H", 40)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func reference(e *models.LedgerEntry) string {
	switch {
	case e.SourceEventID != nil:
		return *e.SourceEventID
	case e.PayoutRequestID != nil:
		return e.PayoutRequestID.String()
	}
	return ""
}

func rate(e *models.LedgerEntry) string {
	if e.RateBps == nil {
		return ""
	}
	return money.FormatBps(*e.RateBps)
}
