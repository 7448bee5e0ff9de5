package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

const exportPageSize = 500

// SARLister pages through a tenant's SARs.
type SARLister interface {
	ListSARs(ctx context.Context, tenantID string, filter domain.SARFilter) ([]*domain.SAR, error)
}

var exportColumns = []string{"sar_id", "case_id", "customer_name", "amount", "status", "filing_date", "created_at"}

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// ExportSARs writes every SAR matching status to w in the given format.
func ExportSARs(ctx context.Context, src SARLister, tenantID string, status domain.SARStatus, format string, w io.Writer) error {
	if format == "" {
		format = FormatCSV
	}
	switch format {
	case FormatCSV, FormatJSON, FormatXLSX:
	default:
		return fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, format)
	}

	sars, err := collectSARs(ctx, src, tenantID, status)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(map[string]any{"data": sars})
	case FormatXLSX:
		return writeXLSX(sars, w)
	}
	return writeCSV(sars, w)
}

func collectSARs(ctx context.Context, src SARLister, tenantID string, status domain.SARStatus) ([]*domain.SAR, error) {
	var all []*domain.SAR
	for offset := 0; ; offset += exportPageSize {
		page, err := src.ListSARs(ctx, tenantID, domain.SARFilter{
			Status: status,
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list SARs: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
	}
}

func exportRow(s *domain.SAR) []string {
	filed := ""
	if s.FilingDate != nil {
		filed = s.FilingDate.UTC().Format(time.RFC3339)
	}
	return []string{
		s.Number,
		s.CaseID,
		s.CustomerName,
		s.Amount.StringFixed(2),
		string(s.Status),
		filed,
		s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeCSV(sars []*domain.SAR, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, s := range sars {
		if err := cw.Write(exportRow(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(sars []*domain.SAR, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "SARs"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, s := range sars {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		fields := exportRow(s)
		row := make([]any, len(fields))
		for j, v := range fields {
			row[j] = v
		}
		row[3] = s.Amount.InexactFloat64()
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}
