// Package importer turns spreadsheets of questions into session input.
package importer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Column layout of an import sheet. The first row is a header.
const (
	colQuestion = iota
	colOptionA
	colOptionB
	colOptionC
	colOptionD
	colCorrect
	colTimeLimit
	colPoints
	colType
	colMediaURL

	minColumns = colCorrect + 1
)

// RowError points at the spreadsheet row that could not be read.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// ReadFile reads the questions of the first sheet of an .xlsx file.
func ReadFile(path string) ([]app.QuestionInput, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readSheet(f)
}

// Read is ReadFile for an in-memory workbook.
func Read(r io.Reader) ([]app.QuestionInput, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readSheet(f)
}

func readSheet(f *excelize.File) ([]app.QuestionInput, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	var questions []app.QuestionInput
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		q, err := parseRow(row)
		if err != nil {
			return nil, &RowError{Row: i + 1, Err: err}
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func parseRow(row []string) (app.QuestionInput, error) {
	if len(row) < minColumns {
		return app.QuestionInput{}, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(row))
	}
	correct, err := parseCorrect(row[colCorrect])
	if err != nil {
		return app.QuestionInput{}, err
	}
	timeLimit, err := optionalInt(cell(row, colTimeLimit), "time limit")
	if err != nil {
		return app.QuestionInput{}, err
	}
	points, err := optionalInt(cell(row, colPoints), "points")
	if err != nil {
		return app.QuestionInput{}, err
	}

	return app.QuestionInput{
		Text: strings.TrimSpace(row[colQuestion]),
		Options: []string{
			strings.TrimSpace(row[colOptionA]),
			strings.TrimSpace(row[colOptionB]),
			strings.TrimSpace(row[colOptionC]),
			strings.TrimSpace(row[colOptionD]),
		},
		CorrectAnswer: correct,
		TimeLimit:     timeLimit,
		Points:        points,
		Type:          domain.QuestionType(strings.ToLower(cell(row, colType))),
		MediaURL:      cell(row, colMediaURL),
	}, nil
}

// parseCorrect accepts 1-4 or A-D.
func parseCorrect(raw string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if len(v) == 1 && v[0] >= 'A' && v[0] <= 'D' {
		return int(v[0] - 'A'), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 4 {
		return 0, fmt.Errorf("correct answer %q must be 1-4 or A-D", raw)
	}
	return n - 1, nil
}

func optionalInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, raw)
	}
	return n, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
