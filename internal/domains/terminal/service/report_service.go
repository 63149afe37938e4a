package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"terminal-payment-backend/internal/domains/terminal/model"
	repo "terminal-payment-backend/internal/domains/terminal/repository"
)

const (
	sheetCommissions = "Commissions"
	sheetStaffTotals = "Staff totals"
)

var commissionHeaders = []string{
	"Created At",
	"Invoice",
	"Transaction ID",
	"Payment ID",
	"Staff ID",
	"Rate Type",
	"Base Amount",
	"Tip Amount",
	"Commission",
	"Total Earnings",
}

var staffTotalHeaders = []string{
	"Staff ID",
	"Payments",
	"Base Amount",
	"Tip Amount",
	"Commission",
	"Total Earnings",
}

type reportService struct {
	commissions repo.CommissionRepository
}

func NewReportService(commissions repo.CommissionRepository) ReportService {
	return &reportService{commissions: commissions}
}

func (s *reportService) ExportCommissions(ctx context.Context, req model.CommissionReportRequest) (*excelize.File, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError(err)
	}

	from, to := req.Range()
	rows, err := s.commissions.ListForReport(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load commissions: %w", err)
	}

	f, err := buildCommissionWorkbook(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to build excel file: %w", err)
	}

	log.Info().
		Str("from", req.From).
		Str("to", req.To).
		Int("rows", len(rows)).
		Msg("[REPORT] Commission export built")

	return f, nil
}

type staffTotal struct {
	staffID    uuid.UUID
	payments   int
	base       decimal.Decimal
	tip        decimal.Decimal
	commission decimal.Decimal
	earnings   decimal.Decimal
}

func buildCommissionWorkbook(rows []*model.CommissionReportRow) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", sheetCommissions); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sheetStaffTotals); err != nil {
		return nil, err
	}

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeHeader(f, sheetCommissions, commissionHeaders, boldStyle); err != nil {
		return nil, err
	}
	if err := writeHeader(f, sheetStaffTotals, staffTotalHeaders, boldStyle); err != nil {
		return nil, err
	}

	totals := make(map[uuid.UUID]*staffTotal)

	// Data rows start at row 2
	for i, r := range rows {
		values := []interface{}{
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			r.InvoiceNumber,
			r.TransactionID,
			r.PaymentID.String(),
			r.StaffID.String(),
			r.RateType,
			r.BaseAmount.InexactFloat64(),
			r.TipAmount.InexactFloat64(),
			r.CommissionAmount.InexactFloat64(),
			r.TotalEarnings.InexactFloat64(),
		}
		if err := writeRow(f, sheetCommissions, i+2, values); err != nil {
			return nil, err
		}

		t, ok := totals[r.StaffID]
		if !ok {
			t = &staffTotal{staffID: r.StaffID}
			totals[r.StaffID] = t
		}
		t.payments++
		t.base = t.base.Add(r.BaseAmount)
		t.tip = t.tip.Add(r.TipAmount)
		t.commission = t.commission.Add(r.CommissionAmount)
		t.earnings = t.earnings.Add(r.TotalEarnings)
	}

	ordered := make([]*staffTotal, 0, len(totals))
	for _, t := range totals {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].staffID.String() < ordered[j].staffID.String()
	})

	for i, t := range ordered {
		values := []interface{}{
			t.staffID.String(),
			t.payments,
			t.base.InexactFloat64(),
			t.tip.InexactFloat64(),
			t.commission.InexactFloat64(),
			t.earnings.InexactFloat64(),
		}
		if err := writeRow(f, sheetStaffTotals, i+2, values); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
