package registry

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// LoadCSV decodes facilities from a CSV with a header row naming at least
// name, lat and lon. Header names are case-insensitive.
func LoadCSV(r io.Reader) ([]Facility, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "registry: read csv header")
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if err := requireColumns(header); err != nil {
		return nil, err
	}
	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "registry: csv decoder")
	}

	var out []Facility
	for {
		var f Facility
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "registry: decode csv row %d", len(out)+2)
		}
		out = append(out, f)
	}
	return out, nil
}

// LoadXLSX reads facilities from the first sheet of an XLSX workbook. The
// first row is the header, with the same column names as LoadCSV.
func LoadXLSX(path string) ([]Facility, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("registry: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := rowToStrings(sheet.Rows[0])
	if err := requireColumns(header); err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var out []Facility
	for n, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[i])
		}
		if get("name") == "" {
			continue
		}
		lat, err := strconv.ParseFloat(get("lat"), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: xlsx row %d lat", n+2)
		}
		lon, err := strconv.ParseFloat(get("lon"), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: xlsx row %d lon", n+2)
		}
		out = append(out, Facility{
			ID:          get("id"),
			Name:        get("name"),
			CountryCode: strings.ToUpper(get("country_code")),
			AdminArea:   get("admin_area"),
			Type:        get("type"),
			Lat:         lat,
			Lon:         lon,
		})
	}
	return out, nil
}

// LoadFile picks the loader from the file extension.
func LoadFile(path string) ([]Facility, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "registry: open csv")
		}
		defer f.Close() //nolint:errcheck
		return LoadCSV(f)
	default:
		return nil, eris.Errorf("registry: unsupported file type %q", filepath.Ext(path))
	}
}

func requireColumns(header []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, c := range []string{"name", "lat", "lon"} {
		if !have[c] {
			return eris.Errorf("registry: missing column %q", c)
		}
	}
	return nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
