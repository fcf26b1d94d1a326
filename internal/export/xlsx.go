package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const fileListSheet = "Files"

var fileListColumns = []string{"ID", "Name", "Status", "Team", "Uploader", "Priority", "Due date", "Size (bytes)", "Uploaded"}

// FileRow is one line of the file list export.
type FileRow struct {
	ID       string
	Name     string
	Label    string
	Team     string
	Uploader string
	Priority string
	DueDate  string
	Size     int64
	Uploaded string
}

func renderFileList(rows []FileRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", fileListSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, col := range fileListColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(fileListSheet, cell, col); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(fileListColumns), 1)
	if err := f.SetCellStyle(fileListSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(fileListSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	for r, row := range rows {
		values := []any{row.ID, row.Name, row.Label, row.Team, row.Uploader, row.Priority, row.DueDate, row.Size, row.Uploaded}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(fileListSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	if len(rows) > 0 {
		if err := f.AutoFilter(fileListSheet, "A1:"+lastHeader, nil); err != nil {
			return nil, fmt.Errorf("auto filter: %w", err)
		}
	}
	_ = f.SetColWidth(fileListSheet, "A", "A", 38)
	_ = f.SetColWidth(fileListSheet, "B", "B", 40)
	_ = f.SetColWidth(fileListSheet, "C", "I", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
