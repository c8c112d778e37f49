// Package excel reads long-format longitudinal data out of Excel
// workbooks and CSV exports.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gommrm/domain/core"
	"gommrm/domain/dataset"
	"gommrm/internal"
	apperrors "gommrm/internal/errors"
	"gommrm/ports"

	"github.com/xuri/excelize/v2"
)

// Columns names the well-known columns of a long-format sheet. Any
// header not named here is treated as a numeric covariate.
type Columns struct {
	Subject  string
	Visit    string
	Response string
	Weight   string // optional
	Group    string // optional
}

// DefaultColumns matches the usual export layout.
func DefaultColumns() Columns {
	return Columns{Subject: "subject", Visit: "visit", Response: "response", Weight: "weight", Group: "group"}
}

// PanelReader reads xlsx and csv files into a dataset.Panel. Visit
// levels are taken in order of first appearance unless an explicit
// ordering is supplied.
type PanelReader struct {
	cols        Columns
	visitLevels []string
	logger      *internal.Logger
}

var _ ports.PanelReader = (*PanelReader)(nil)

// NewPanelReader creates a reader with the given column mapping.
// visitLevels may be nil to derive the ordering from the data.
func NewPanelReader(cols Columns, visitLevels []string, logger *internal.Logger) *PanelReader {
	if cols.Subject == "" {
		cols = DefaultColumns()
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &PanelReader{cols: cols, visitLevels: visitLevels, logger: logger}
}

// ReadPanel loads the file at source. The extension decides the
// format: .csv is parsed as CSV, everything else goes through
// excelize.
func (r *PanelReader) ReadPanel(ctx context.Context, source string) (*dataset.Panel, error) {
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return nil, apperrors.Wrapf(err, "data file not found: %s", source)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	var rows [][]string
	var err error
	if strings.ToLower(filepath.Ext(source)) == ".csv" {
		rows, err = readCSVRows(source)
	} else {
		rows, err = readSheetRows(source)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read %d rows from %s in %.2fms", len(rows), source, float64(time.Since(start).Nanoseconds())/1e6)

	if len(rows) < 2 {
		return nil, apperrors.DataError("file must have a header row and at least one data row")
	}
	return r.buildPanel(rows)
}

func readSheetRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to read sheet %s", sheet)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to parse CSV file")
	}
	return rows, nil
}

func (r *PanelReader) buildPanel(rows [][]string) (*dataset.Panel, error) {
	header := rows[0]
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}

	subjectCol, ok := col[strings.ToLower(r.cols.Subject)]
	if !ok {
		return nil, apperrors.DataError(fmt.Sprintf("missing required column %q", r.cols.Subject))
	}
	visitCol, ok := col[strings.ToLower(r.cols.Visit)]
	if !ok {
		return nil, apperrors.DataError(fmt.Sprintf("missing required column %q", r.cols.Visit))
	}
	responseCol, ok := col[strings.ToLower(r.cols.Response)]
	if !ok {
		return nil, apperrors.DataError(fmt.Sprintf("missing required column %q", r.cols.Response))
	}
	weightCol, hasWeight := col[strings.ToLower(r.cols.Weight)]
	groupCol, hasGroup := col[strings.ToLower(r.cols.Group)]

	known := map[int]bool{subjectCol: true, visitCol: true, responseCol: true}
	if hasWeight {
		known[weightCol] = true
	}
	if hasGroup {
		known[groupCol] = true
	}

	levels := r.visitLevels
	levelSeen := make(map[string]bool, len(levels))
	for _, v := range levels {
		levelSeen[v] = true
	}

	records := make([]dataset.Record, 0, len(rows)-1)
	for rowNum, row := range rows[1:] {
		get := func(j int) string {
			if j < len(row) {
				return strings.TrimSpace(row[j])
			}
			return ""
		}
		if get(responseCol) == "" {
			// rows without an observed response carry no information
			continue
		}

		rec := dataset.Record{
			Subject: core.SubjectKey(get(subjectCol)),
			Visit:   core.VisitKey(get(visitCol)),
		}
		resp, err := strconv.ParseFloat(get(responseCol), 64)
		if err != nil {
			return nil, apperrors.Wrapf(err, "row %d: response %q is not numeric", rowNum+2, get(responseCol))
		}
		rec.Response = resp

		if hasWeight && get(weightCol) != "" {
			w, err := strconv.ParseFloat(get(weightCol), 64)
			if err != nil {
				return nil, apperrors.Wrapf(err, "row %d: weight %q is not numeric", rowNum+2, get(weightCol))
			}
			rec.Weight = w
		}
		if hasGroup {
			rec.Group = get(groupCol)
		}

		for j, h := range header {
			if known[j] {
				continue
			}
			raw := get(j)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, apperrors.Wrapf(err, "row %d: covariate %q value %q is not numeric", rowNum+2, h, raw)
			}
			if rec.Covariates == nil {
				rec.Covariates = make(map[string]float64)
			}
			rec.Covariates[strings.TrimSpace(h)] = v
		}

		if r.visitLevels == nil && !levelSeen[string(rec.Visit)] {
			levelSeen[string(rec.Visit)] = true
			levels = append(levels, string(rec.Visit))
		}
		records = append(records, rec)
	}

	panel, err := dataset.NewPanel(records, levels)
	if err != nil {
		return nil, apperrors.Wrap(err, "invalid panel")
	}
	r.logger.Info("loaded panel: %d records, %d visits, %d covariates", len(panel.Records), panel.NumVisits(), len(panel.CovariateNames))
	return panel, nil
}
