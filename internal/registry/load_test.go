package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Facilities")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "facilities.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadCSV(t *testing.T) {
	in := `ID,Name,Country_Code,Lat,Lon,district
zw-001,Chitungwiza Central Hospital,ZW,-18.0127,31.0756,Chitungwiza
ke-001,"Kenyatta National Hospital",KE,-1.3006,36.8066,Nairobi
`
	got, err := LoadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Facility{ID: "zw-001", Name: "Chitungwiza Central Hospital", CountryCode: "ZW", Lat: -18.0127, Lon: 31.0756}, got[0])
	assert.Equal(t, "Kenyatta National Hospital", got[1].Name)
}

func TestLoadCSV_MissingColumn(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("name,lat\nX,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "lon"`)
}

func TestLoadCSV_BadNumber(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("name,lat,lon\nX,north,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode csv row 2")
}

func TestLoadXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"name", "country_code", "lat", "lon", "type"},
		{"Mpilo Central Hospital", "zw", "-20.1394", "28.5726", "hospital"},
		{"", "", "", "", ""},
		{"Harare Central Hospital", "ZW", "-17.8536", "31.0337", ""},
	})

	got, err := LoadXLSX(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Mpilo Central Hospital", got[0].Name)
	assert.Equal(t, "ZW", got[0].CountryCode)
	assert.Equal(t, "hospital", got[0].Type)
	assert.InDelta(t, 31.0337, got[1].Lon, 1e-9)
}

func TestLoadXLSX_BadLat(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"name", "lat", "lon"},
		{"Mpilo", "south", "28.5"},
	})
	_, err := LoadXLSX(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 lat")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "facilities.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name,lat,lon\nMpilo,-20.1,28.5\n"), 0o644))

	got, err := LoadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = LoadFile(filepath.Join(dir, "facilities.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
