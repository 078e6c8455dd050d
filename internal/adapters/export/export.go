package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name from the command line.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

type row struct {
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	MessageCount   int      `json:"message_count"`
	Score          float64  `json:"score"`
	Classification string   `json:"classification"`
	SampleSubjects []string `json:"sample_subjects"`
}

type envelope struct {
	Query         string    `json:"query"`
	ScannedAt     time.Time `json:"scanned_at"`
	TotalMessages int       `json:"total_messages"`
	Unreadable    int       `json:"unreadable"`
	Senders       []row     `json:"senders"`
}

// Exporter writes scan results as CSV or JSON.
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Write encodes the profiles scoring at or above minScore, in presentation
// order, to w.
func (e *Exporter) Write(w io.Writer, result *core.ScanResult, format Format, minScore float64) error {
	profiles := result.FilterProfiles(minScore)
	core.SortByClassification(profiles)

	rows := make([]row, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, row{
			Email:          p.Email,
			Name:           p.Name,
			MessageCount:   p.MessageCount,
			Score:          p.Score,
			Classification: string(p.Classification),
			SampleSubjects: p.SampleSubjects,
		})
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope{
			Query:         result.Query,
			ScannedAt:     result.ScannedAt,
			TotalMessages: result.TotalMessages,
			Unreadable:    result.Unreadable,
			Senders:       rows,
		})
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile exports to a file, creating or truncating it.
func (e *Exporter) WriteFile(path string, result *core.ScanResult, format Format, minScore float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := e.Write(f, result, format, minScore); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}

	e.logger.Info("Exported scan result",
		zap.String("path", path),
		zap.String("format", string(format)))
	return nil
}

func writeCSV(w io.Writer, rows []row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "name", "message_count", "score", "classification", "sample_subjects"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Email,
			r.Name,
			strconv.Itoa(r.MessageCount),
			strconv.FormatFloat(r.Score, 'f', 2, 64),
			r.Classification,
			strings.Join(r.SampleSubjects, "; "),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
