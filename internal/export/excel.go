package export

import (
	"fmt"
	"io"
	"time"

	"studiobook/internal/models"

	"github.com/xuri/excelize/v2"
)

// Excel sheet names are limited to 31 characters.
const maxSheetName = 31

// Sheet writes rows into an xlsx workbook, one sheet at a time.
type Sheet struct {
	file       *excelize.File
	current    string
	currentRow int
}

func NewSheet() *Sheet {
	return &Sheet{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default one.
func (s *Sheet) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if s.current == "" {
		if err := s.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := s.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	s.current = name
	s.currentRow = 1
	return nil
}

// WriteHeader writes bold column titles and freezes the header row.
func (s *Sheet) WriteHeader(columns []string) error {
	if err := s.writeRow(columnValues(columns)); err != nil {
		return err
	}

	style, err := s.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, s.currentRow-1)
		end, _ := excelize.CoordinatesToCellName(len(columns), s.currentRow-1)
		_ = s.file.SetCellStyle(s.current, start, end, style)
	}

	return s.file.SetPanes(s.current, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (s *Sheet) WriteRow(row []any) error {
	return s.writeRow(row)
}

func (s *Sheet) writeRow(row []any) error {
	if s.current == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, s.currentRow)
		if err != nil {
			return err
		}
		if err := s.file.SetCellValue(s.current, cell, val); err != nil {
			return err
		}
	}

	s.currentRow++
	return nil
}

func (s *Sheet) Save(w io.Writer) error {
	return s.file.Write(w)
}

func (s *Sheet) Close() error {
	return s.file.Close()
}

func columnValues(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = c
	}
	return out
}

// BookingColumns is the header of the bookings sheet.
var BookingColumns = []string{
	"ID", "Service", "Date", "Start", "End", "Status",
	"Client", "Email", "Phone", "Notes", "Internal notes", "Rejected reason",
	"Calendar event", "Created", "Confirmed", "Rejected", "Cancelled",
}

// Bookings writes the given bookings as a single-sheet workbook.
func Bookings(w io.Writer, bookings []models.Booking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	sheet := NewSheet()
	defer sheet.Close()

	if err := sheet.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := sheet.WriteHeader(BookingColumns); err != nil {
		return err
	}

	for i := range bookings {
		b := &bookings[i]
		row := []any{
			b.ID,
			b.ServiceTypeName,
			b.Date.String(),
			b.StartTime.String(),
			b.EndTime.String(),
			b.Status,
			b.ClientName,
			b.ClientEmail,
			b.ClientPhone,
			b.Notes,
			b.InternalNotes,
			b.RejectedReason,
			b.CalendarEventID,
			stamp(&b.CreatedAt, loc),
			stamp(b.ConfirmedAt, loc),
			stamp(b.RejectedAt, loc),
			stamp(b.CancelledAt, loc),
		}
		if err := sheet.WriteRow(row); err != nil {
			return fmt.Errorf("write booking %d: %w", b.ID, err)
		}
	}

	return sheet.Save(w)
}

// Filename names an export generated at t, e.g. bookings_2025-06-01.xlsx.
func Filename(t time.Time) string {
	return fmt.Sprintf("bookings_%s.xlsx", t.Format("2006-01-02"))
}

func stamp(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
