// Package report renders admin exports. The occupancy report is an
// .xlsx sheet with one row per resource per day.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"kennelbook/internal/models"

	"github.com/xuri/excelize/v2"
)

// OverviewSource supplies the per-day capacity projection.
type OverviewSource interface {
	QueryOverview(ctx context.Context, date string) (*models.Overview, error)
}

// MaxReportDays bounds the report range; one quarter is plenty.
const MaxReportDays = 92

var occupancyColumns = []string{
	"Date", "Resource", "Capacity", "Reserved", "Confirmed", "Available", "Utilisation %",
}

// OccupancyWriter builds occupancy spreadsheets.
type OccupancyWriter struct {
	source OverviewSource
}

func NewOccupancyWriter(source OverviewSource) *OccupancyWriter {
	return &OccupancyWriter{source: source}
}

// Write renders the occupancy report for [from, to] inclusive.
func (ow *OccupancyWriter) Write(ctx context.Context, from, to time.Time, w io.Writer) error {
	days := int(to.Sub(from).Hours()/24) + 1
	if days < 1 {
		return fmt.Errorf("from %s is after to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	if days > MaxReportDays {
		return fmt.Errorf("report range exceeds maximum of %d days", MaxReportDays)
	}

	file := excelize.NewFile()
	defer file.Close()

	const sheet = "Occupancy"
	file.SetSheetName("Sheet1", sheet)

	row := 1
	if err := writeRow(file, sheet, row, toAny(occupancyColumns)); err != nil {
		return err
	}
	if style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, row)
		endCell, _ := excelize.CoordinatesToCellName(len(occupancyColumns), row)
		_ = file.SetCellStyle(sheet, startCell, endCell, style)
	}
	row++

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		overview, err := ow.source.QueryOverview(ctx, date)
		if err != nil {
			return fmt.Errorf("overview for %s: %w", date, err)
		}

		for _, key := range sortedResourceKeys(overview.Resources) {
			usage := overview.Resources[key]
			occupied := models.ResourceUsage{
				Capacity:  usage.Capacity,
				Reserved:  usage.Reserved,
				Confirmed: usage.Confirmed,
			}
			pct := occupied.UtilisationPct()

			if err := writeRow(file, sheet, row, []any{
				date, key, usage.Capacity, usage.Reserved, usage.Confirmed, usage.Available, pct,
			}); err != nil {
				return err
			}
			row++
		}

		if err := writeRow(file, sheet, row, []any{
			date, "total",
			overview.Totals.Capacity, overview.Totals.Reserved,
			overview.Totals.Confirmed, overview.Totals.Available,
			overview.Totals.UtilisationPct,
		}); err != nil {
			return err
		}
		row++
	}

	return file.Write(w)
}

func writeRow(file *excelize.File, sheet string, row int, values []any) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// sortedResourceKeys gives the report a stable row order.
func sortedResourceKeys(resources map[string]models.ResourceUsage) []string {
	order := []string{"daycare", "boarding:small", "boarding:large", "trial"}
	keys := make([]string, 0, len(resources))
	for _, k := range order {
		if _, ok := resources[k]; ok {
			keys = append(keys, k)
		}
	}
	for k := range resources {
		known := false
		for _, o := range order {
			if k == o {
				known = true
				break
			}
		}
		if !known {
			keys = append(keys, k)
		}
	}
	return keys
}
