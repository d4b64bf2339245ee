package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBusiness(t *testing.T, s *store.SQLiteStore) *model.Business {
	t.Helper()
	b, err := s.CreateBusiness(context.Background(), model.Business{
		SourceURL:   "https://acmeplumbing.example",
		Name:        "Acme Plumbing",
		Category:    "plumber",
		ServiceArea: []string{"Brooklyn"},
		ICP:         "restaurant",
		USP:         "24/7 emergency service",
	})
	require.NoError(t, err)
	return b
}

// createTestXLSX writes a workbook where each map key is a sheet name and the
// value is its rows.
func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestImportXLSX_StoresScoredLeads(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	b := seedBusiness(t, s)
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Business Name", "Phone", "Website", "City", "Rating", "Reviews"},
			{"Joe's Pizza", "7185550100", "https://joespizza.example", "Brooklyn", "4.5", "120"},
			{"Maria's Tacos", "7185550101", "", "Brooklyn", "", ""},
		},
	})

	im := New(s, lead.NewScorer(nil, ""))
	report, err := im.ImportXLSX(context.Background(), path, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Empty(t, report.Skipped)

	leads, err := s.ListLeads(context.Background(), store.LeadFilter{BusinessID: b.ID})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	for _, ld := range leads {
		assert.Equal(t, "import", ld.Provider)
		assert.Equal(t, model.LeadStatusNew, ld.Status)
		assert.Equal(t, "phone_"+ld.Phone, ld.DedupKey)
		assert.Positive(t, ld.Score)
	}
}

func TestImportXLSX_SkipsBadRowsAndContinues(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	b := seedBusiness(t, s)
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Name", "Phone", "Rating"},
			{"", "", "4.0"},
			{"Joe's Pizza", "7185550100", "not a number"},
			{"Maria's Tacos", "7185550101", "4.8"},
		},
	})

	im := New(s, lead.NewScorer(nil, ""))
	report, err := im.ImportXLSX(context.Background(), path, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, 2, report.Skipped[0].Row)
	assert.Contains(t, report.Skipped[0].Reason, "neither name nor phone")
	assert.Equal(t, 3, report.Skipped[1].Row)
	assert.Contains(t, report.Skipped[1].Reason, "bad rating")
}

func TestImportXLSX_DedupsAgainstExistingLeads(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	b := seedBusiness(t, s)
	_, err := s.UpsertLead(context.Background(), model.Lead{
		BusinessID: b.ID,
		Provider:   "places",
		Name:       "Joe's Pizza",
		Phone:      "7185550100",
		City:       "Brooklyn",
		DedupKey:   lead.DedupKey("7185550100", "", "Joe's Pizza", ""),
		Status:     model.LeadStatusNew,
	})
	require.NoError(t, err)

	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Name", "Phone"},
			{"Joes Pizza Inc", "(718) 555-0100"},
		},
	})

	im := New(s, lead.NewScorer(nil, ""))
	report, err := im.ImportXLSX(context.Background(), path, b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)

	// The existing record keeps its identity; discovery fields are refreshed.
	leads, err := s.ListLeads(context.Background(), store.LeadFilter{BusinessID: b.ID})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "import", leads[0].Provider)
	assert.Equal(t, "Joes Pizza Inc", leads[0].Name)
}

func TestImportXLSX_SheetSelection(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	b := seedBusiness(t, s)
	path := createTestXLSX(t, map[string][][]string{
		"Leads": {
			{"Name", "Phone"},
			{"Joe's Pizza", "7185550100"},
		},
	})

	im := New(s, lead.NewScorer(nil, ""))

	_, err := im.ImportXLSX(context.Background(), path, b.ID, Options{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)

	report, err := im.ImportXLSX(context.Background(), path, b.ID, Options{SheetName: "Leads"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
}

func TestImportXLSX_HeaderWithoutNameColumn(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	b := seedBusiness(t, s)
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Foo", "Bar"},
			{"x", "y"},
		},
	})

	im := New(s, lead.NewScorer(nil, ""))
	_, err := im.ImportXLSX(context.Background(), path, b.ID, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name column")
}
