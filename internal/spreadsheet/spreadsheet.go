// Package spreadsheet reads uploaded workbooks and streams generated ones.
package spreadsheet

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReadUpload opens the multipart field as an .xlsx workbook and returns the
// rows of its first sheet.
func ReadUpload(c *fiber.Ctx, field string) ([][]string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "File is required in field '"+field+"'")
	}
	return ReadFile(fh)
}

func ReadFile(fh *multipart.FileHeader) ([][]string, error) {
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Only .xlsx files are accepted")
	}
	file, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "File could not be opened")
	}
	defer file.Close()

	wb, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Excel file could not be read: "+err.Error())
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Excel file has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Sheet could not be read: "+err.Error())
	}
	return rows, nil
}

// Cell returns the trimmed value at col, or "" for short rows.
func Cell(row []string, col int) string {
	if col < len(row) {
		return strings.TrimSpace(row[col])
	}
	return ""
}

// IsHeader reports whether the first cell of row matches one of names.
func IsHeader(row []string, names ...string) bool {
	first := strings.ToLower(Cell(row, 0))
	for _, n := range names {
		if first == n {
			return true
		}
	}
	return false
}

// Sheet is one worksheet of a generated workbook.
type Sheet struct {
	Name   string
	Header []any
	Rows   [][]any
	Widths map[string]float64 // column letter -> width
}

// Build renders the sheets into a new workbook with a bold frozen header.
func Build(sheets ...Sheet) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return nil, err
		}

		if err := f.SetSheetRow(s.Name, "A1", &s.Header); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		last, err := excelize.CoordinatesToCellName(len(s.Header), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(s.Name, "A1", last, bold); err != nil {
			return nil, err
		}
		if err := f.SetPanes(s.Name, &excelize.Panes{
			Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
		}); err != nil {
			return nil, err
		}

		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
				return nil, fmt.Errorf("row %d: %w", r+2, err)
			}
		}
		for col, w := range s.Widths {
			if err := f.SetColWidth(s.Name, col, col, w); err != nil {
				return nil, err
			}
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Send writes the workbook as an attachment.
func Send(c *fiber.Ctx, f *excelize.File, fileName string) error {
	defer f.Close()
	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Excel file could not be written")
	}
	c.Set(fiber.HeaderContentType, ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, fileName))
	return c.Send(buf.Bytes())
}
