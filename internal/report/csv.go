// Package report renders attendance grids for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"geoattend/internal/attendance"
)

// DefaultFilePrefix names exported files when none is configured.
const DefaultFilePrefix = "AIH_Attendance_Report"

// Labels fill the header block above the grid.
type Labels struct {
	School    string `yaml:"school_name"`
	Course    string `yaml:"course_title"`
	Professor string `yaml:"professor_name"`
}

// Options tune the CSV output.
type Options struct {
	Labels Labels
	// ExcelBOM prefixes the file with a UTF-8 byte order mark so spreadsheet
	// tools pick the right encoding.
	ExcelBOM bool
}

// WriteCSV renders m: the label block, the P/A/H key, a header row of
// name, id, one column per date and the percentage, then one row per student.
func WriteCSV(w io.Writer, m attendance.Matrix, opts Options) error {
	var tw *transform.Writer
	if opts.ExcelBOM {
		tw = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		w = tw
	}
	cw := csv.NewWriter(w)

	preamble := [][]string{
		{"School Name:", opts.Labels.School},
		{"Course Title:", opts.Labels.Course},
		{"Professor Name:", opts.Labels.Professor},
		{},
		{"Key:"},
		{string(attendance.MarkPresent), "Present"},
		{string(attendance.MarkAbsent), "Absent"},
		{string(attendance.MarkHoliday), "Holiday"},
		{},
	}
	if err := cw.WriteAll(preamble); err != nil {
		return err
	}
	if err := cw.Write(Header(m)); err != nil {
		return err
	}
	for _, row := range m.Rows {
		if err := cw.Write(Row(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

// Header is the column row of the grid.
func Header(m attendance.Matrix) []string {
	out := make([]string, 0, len(m.Dates)+3)
	out = append(out, "Student Name", "ID Number")
	for _, d := range m.Dates {
		out = append(out, d.Format(attendance.DateLayout))
	}
	return append(out, "Attendance %")
}

// Row renders one student's line.
func Row(r attendance.MatrixRow) []string {
	out := make([]string, 0, len(r.Marks)+3)
	out = append(out, r.Student.Name, r.Student.EnrollmentNo)
	for _, mark := range r.Marks {
		out = append(out, string(mark))
	}
	return append(out, Percentage(r.Percentage))
}

// Percentage formats p with one decimal and a trailing percent sign.
func Percentage(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// FileName is the download name for m, e.g. AIH_Attendance_Report_2025-03-01_to_2025-03-10.csv.
func FileName(prefix string, m attendance.Matrix) string {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	return fmt.Sprintf("%s_%s_to_%s.csv", prefix, m.From.Format(attendance.DateLayout), m.To.Format(attendance.DateLayout))
}
