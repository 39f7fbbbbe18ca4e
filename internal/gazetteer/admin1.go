package gazetteer

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// LoadAdmin1 adds subdivisions from a GeoNames admin1CodesASCII.txt stream.
// Each line is CC.CODE<tab>Name<tab>AsciiName<tab>GeonameId; both the name
// and its ASCII form are registered. Lines for unknown countries are skipped.
func (g *Gazetteer) LoadAdmin1(r io.Reader) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loaded := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		cc, _, ok := strings.Cut(fields[0], ".")
		if !ok {
			continue
		}
		cc = strings.ToUpper(cc)
		if _, known := g.countries[cc]; !known {
			continue
		}

		g.addSubdivision(cc, fields[1])
		if fields[2] != fields[1] {
			g.addSubdivision(cc, fields[2])
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, eris.Wrap(err, "gazetteer: read admin1 codes")
	}
	return loaded, nil
}

// LoadAdmin1File is LoadAdmin1 over a file on disk.
func (g *Gazetteer) LoadAdmin1File(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "gazetteer: open admin1 codes")
	}
	defer f.Close() //nolint:errcheck
	return g.LoadAdmin1(f)
}
