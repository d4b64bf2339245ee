// Package importer loads lead lists from spreadsheet files into the store.
package importer

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
)

// Options configures the spreadsheet parser.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// SkippedRow records one spreadsheet row that could not be imported.
type SkippedRow struct {
	Row    int    `json:"row"` // 1-based, as shown in spreadsheet apps
	Reason string `json:"reason"`
}

// Report summarizes an import run.
type Report struct {
	Imported int          `json:"imported"`
	Skipped  []SkippedRow `json:"skipped,omitempty"`
}

// Importer reads lead rows from XLSX files, dedups them, and writes scored
// records for a business.
type Importer struct {
	store  store.Store
	scorer *lead.Scorer
}

// New creates an Importer.
func New(s store.Store, sc *lead.Scorer) *Importer {
	return &Importer{store: s, scorer: sc}
}

// Column headers recognized in the first row, lowercased. Unknown columns are
// ignored.
var headerAliases = map[string]string{
	"name":           "name",
	"business":       "name",
	"business name":  "name",
	"phone":          "phone",
	"phone number":   "phone",
	"website":        "website",
	"url":            "website",
	"email":          "email",
	"address":        "address",
	"street address": "address",
	"city":           "city",
	"state":          "state",
	"zip":            "postal_code",
	"postal code":    "postal_code",
	"category":       "category",
	"rating":         "rating",
	"reviews":        "review_count",
	"review count":   "review_count",
}

// ImportXLSX loads the sheet's rows as leads for the business. The first row
// must be a header naming the columns. Rows missing both a name and a phone
// are skipped and reported, never aborting the import.
func (im *Importer) ImportXLSX(ctx context.Context, path, businessID string, opts Options) (*Report, error) {
	business, err := im.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: load business %s", businessID)
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open file")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("importer: sheet is empty")
	}

	columns := mapHeader(rowToStrings(sheet.Rows[0]))
	if _, ok := columns["name"]; !ok {
		return nil, eris.New("importer: header row has no name column")
	}

	report := &Report{}
	for i, row := range sheet.Rows[1:] {
		rowNum := i + 2
		cells := rowToStrings(row)
		if blankRow(cells) {
			continue
		}

		ld, err := leadFromRow(business, columns, cells)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRow{Row: rowNum, Reason: err.Error()})
			continue
		}

		saved, err := im.store.UpsertLead(ctx, ld)
		if err != nil {
			zap.L().Warn("import row failed", zap.Int("row", rowNum), zap.Error(err))
			report.Skipped = append(report.Skipped, SkippedRow{Row: rowNum, Reason: err.Error()})
			continue
		}

		sr := im.scorer.Score(ctx, *saved, lead.CityMatch(*saved, business.ServiceArea))
		if err := im.store.UpdateLeadScore(ctx, saved.ID, sr.Score); err != nil {
			report.Skipped = append(report.Skipped, SkippedRow{Row: rowNum, Reason: err.Error()})
			continue
		}
		report.Imported++
	}
	return report, nil
}

func leadFromRow(business *model.Business, columns map[string]int, cells []string) (model.Lead, error) {
	get := func(field string) string {
		idx, ok := columns[field]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	name := lead.CleanName(get("name"))
	phone := get("phone")
	if name == "" && phone == "" {
		return model.Lead{}, eris.New("row has neither name nor phone")
	}

	ld := model.Lead{
		BusinessID:       business.ID,
		Provider:         "import",
		Name:             name,
		Category:         firstNonEmpty(get("category"), business.ICP),
		Website:          get("website"),
		Phone:            phone,
		Email:            get("email"),
		Address:          get("address"),
		City:             get("city"),
		State:            get("state"),
		PostalCode:       get("postal_code"),
		SourceConfidence: 0.6,
		Status:           model.LeadStatusNew,
	}
	ld.DedupKey = lead.DedupKey(ld.Phone, ld.Website, ld.Name, ld.Address)

	if v := get("rating"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return model.Lead{}, eris.Wrapf(err, "bad rating %q", v)
		}
		ld.Rating = &r
	}
	if v := get("review_count"); v != "" {
		rc, err := strconv.Atoi(v)
		if err != nil {
			return model.Lead{}, eris.Wrapf(err, "bad review count %q", v)
		}
		ld.ReviewCount = &rc
	}
	return ld, nil
}

func mapHeader(cells []string) map[string]int {
	columns := make(map[string]int)
	for i, cell := range cells {
		if field, ok := headerAliases[strings.ToLower(strings.TrimSpace(cell))]; ok {
			columns[field] = i
		}
	}
	return columns
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("importer: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("importer: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
