// Package export renders a file's review report as PDF and file listings as XLSX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	// ErrPDFDependencyMissing indicates no headless Chrome binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// HistoryEntry is one status change in a report.
type HistoryEntry struct {
	From   string
	To     string
	Action string
	Actor  string
	At     time.Time
}

// ReportComment is a comment with its replies in a report.
type ReportComment struct {
	Author  string
	Body    string
	At      time.Time
	Replies []ReportReply
}

type ReportReply struct {
	Author string
	Body   string
	At     time.Time
}
