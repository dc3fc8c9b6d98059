package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/healthcoach/store"
)

// Log export columns. The first row must be a header naming them; order
// is free and unknown columns are ignored.
const (
	colUserID          = "user_id"
	colTimestamp       = "timestamp"
	colActivityMinutes = "activity_minutes"
	colSleepHours      = "sleep_hours"
	colWaterIntakeML   = "water_intake_ml"
	colCalories        = "calories"
	colHeartRate       = "heart_rate"
	colSteps           = "steps"
	colMood            = "mood"
)

// ReadLogsCSV parses a log export in CSV form.
func ReadLogsCSV(r io.Reader) ([]store.UserLog, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return rowsToLogs(rows)
}

// ReadLogsCSVFile parses a CSV log export from disk.
func ReadLogsCSVFile(path string) ([]store.UserLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()
	return ReadLogsCSV(f)
}

// ReadLogsXLSX parses a log export from the first sheet of an xlsx
// workbook.
func ReadLogsXLSX(path string) ([]store.UserLog, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	return rowsToLogs(rows)
}

func rowsToLogs(rows [][]string) ([]store.UserLog, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols[colUserID]; !ok {
		return nil, fmt.Errorf("header row missing %s column", colUserID)
	}
	if _, ok := cols[colTimestamp]; !ok {
		return nil, fmt.Errorf("header row missing %s column", colTimestamp)
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var logs []store.UserLog
	for n, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		ts, err := parseTimestamp(cell(row, colTimestamp))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		entry := store.UserLog{
			UserID:    cell(row, colUserID),
			Timestamp: ts,
			Mood:      cell(row, colMood),
		}
		if entry.UserID == "" {
			return nil, fmt.Errorf("row %d: empty %s", n+2, colUserID)
		}
		if entry.ActivityMinutes, err = parseIntCell(cell(row, colActivityMinutes)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colActivityMinutes, err)
		}
		if entry.SleepHours, err = parseFloatCell(cell(row, colSleepHours)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colSleepHours, err)
		}
		if entry.WaterIntakeML, err = parseIntCell(cell(row, colWaterIntakeML)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colWaterIntakeML, err)
		}
		if entry.Calories, err = parseIntCell(cell(row, colCalories)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colCalories, err)
		}
		if entry.HeartRate, err = parseIntCell(cell(row, colHeartRate)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colHeartRate, err)
		}
		if entry.Steps, err = parseIntCell(cell(row, colSteps)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", n+2, colSteps, err)
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseIntCell(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	// Spreadsheets often render integers as floats ("30.0").
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseFloatCell(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
