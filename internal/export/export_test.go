package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/places-search/internal/search"
)

func TestCSVRoundTripPreservesPlaces(t *testing.T) {
	t.Parallel()

	job := completedJob()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, job, Options{Format: FormatCSV}))

	parsed, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, triples(job.Results), triples(parsed))
	require.Equal(t, job.Results, parsed)
}

func TestCSVQuotesDelimiters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	places := []search.Place{{Position: 1, Name: `Bar "do Zé"`, Address: "Rua A, 10\nCentro"}}
	require.NoError(t, WriteCSV(&buf, places))
	require.Contains(t, buf.String(), `"Bar ""do Zé"""`)

	parsed, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, places[0].Address, parsed[0].Address)
}

func TestCSVRoundTripWithCarriageReturns(t *testing.T) {
	t.Parallel()

	phone := "(11) 5555-0000\r\n"
	raw := []search.RawPlace{
		{Title: "Bar\r\nZé", Address: "Rua A\rCentro", PhoneNumber: &phone},
		{Title: "Pastel\n\"Feira\"", Address: "Av. B, 2\r\n\r\nFundos"},
	}
	places := make([]search.Place, len(raw))
	for i, r := range raw {
		places[i] = r.ToPlace()
		places[i].Position = i + 1
	}
	require.Equal(t, "Bar\nZé", places[0].Name)
	require.Equal(t, "Rua A\nCentro", places[0].Address)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, places))
	require.NotContains(t, buf.String(), "\r")

	parsed, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, triples(places), triples(parsed))
	require.Equal(t, places, parsed)

	// Text that bypassed ToPlace is normalized on the way out.
	buf.Reset()
	require.NoError(t, WriteCSV(&buf, []search.Place{{Position: 1, Name: "A\r\nB", Address: "C\rD"}}))
	parsed, err = ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, "A\nB", parsed[0].Name)
	require.Equal(t, "C\nD", parsed[0].Address)
}

func TestWriteRejectsIncompleteJob(t *testing.T) {
	t.Parallel()

	job := completedJob()
	job.Status = search.JobStatusRunning
	err := Write(&bytes.Buffer{}, job, Options{Format: FormatJSON})
	require.ErrorIs(t, err, search.ErrNotCompleted)
}

func TestPhoneOnlyFilterLeavesJobUntouched(t *testing.T) {
	t.Parallel()

	job := completedJob()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, job, Options{Format: FormatJSON, PhoneOnly: true}))

	var got []search.Place
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "Cafe Central", got[0].Name)
	require.Len(t, job.Results, 3)
}

func TestJSONExportOfEmptyJobIsArray(t *testing.T) {
	t.Parallel()

	job := completedJob()
	job.Results = nil
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, job, Options{Format: FormatJSON}))
	require.JSONEq(t, `[]`, buf.String())
}

func TestXLSXHasIntlPhoneColumn(t *testing.T) {
	t.Parallel()

	job := completedJob()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, job, Options{Format: FormatXLSX}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "Phone (intl)", rows[0][4])
	require.Equal(t, "Cafe Central", rows[1][1])
	require.Equal(t, "(11) 3333-4444", rows[1][3])
	require.Equal(t, "+551133334444", rows[1][4])
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, " json ": FormatJSON, "xlsx": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	require.ErrorIs(t, err, ErrUnknownFormat)
	require.Equal(t, "places-j1.xlsx", Filename("j1", FormatXLSX))
	require.Contains(t, FormatCSV.ContentType(), "text/csv")
}

func TestInferCallingCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                         "55",
		"São Paulo":                "55",
		"SP":                       "55",
		"Lisboa, Portugal":         "351",
		"Buenos Aires (Argentina)": "54",
		"Ciudad de México":         "52",
		"Miami, USA":               "1",
		"Perugia":                  "55",
	}
	for location, want := range cases {
		require.Equal(t, want, InferCallingCode(location), location)
	}
}

func TestIntlPhone(t *testing.T) {
	t.Parallel()

	cases := []struct{ phone, code, want string }{
		{"(11) 3333-4444", "55", "+551133334444"},
		{"011 3333-4444", "55", "+551133334444"},
		{"+351 21 000 0000", "55", "+351210000000"},
		{"0055 11 99999-0000", "55", "+5511999990000"},
		{"55 11 99999-0000", "55", "+5511999990000"},
		{"", "55", ""},
		{"n/a", "55", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IntlPhone(tc.phone, tc.code), tc.phone)
	}
}

func completedJob() search.Job {
	loc := "São Paulo"
	return search.Job{
		ID:            "job-1",
		Status:        search.JobStatusCompleted,
		LocationScope: &loc,
		Results: []search.Place{
			{
				Position:    1,
				Name:        "Cafe Central",
				Address:     "Rua Augusta, 100",
				Phone:       strPtr("(11) 3333-4444"),
				Rating:      floatPtr(4.5),
				ReviewCount: intPtr(120),
				Category:    strPtr("Cafe"),
				Website:     strPtr("https://cafe.example"),
				ExternalID:  strPtr("cid-1"),
			},
			{Position: 2, Name: "Padaria", Address: "Av. Paulista, 1"},
			{Position: 3, Name: "Bar, \"Esquina\"", Address: "Rua 3", Rating: floatPtr(3)},
		},
		TotalFound: 3,
	}
}

type triple struct{ name, address, phone string }

func triples(places []search.Place) map[triple]struct{} {
	out := make(map[triple]struct{}, len(places))
	for _, p := range places {
		out[triple{p.Name, p.Address, deref(p.Phone)}] = struct{}{}
	}
	return out
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
