package gazetteer

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/geo"
)

// NaturalEarthURL is the 1:110m admin-0 countries shapefile.
const NaturalEarthURL = "https://naciscdn.org/naturalearth/110m/cultural/ne_110m_admin_0_countries.zip"

// ISO code fields in Natural Earth, in preference order. ISO_A2 is "-99" for
// a few disputed or dependent territories; ISO_A2_EH fills those in.
var isoFields = []string{"ISO_A2", "ISO_A2_EH"}

// ShapefileBounds serves country boxes from a local admin-0 shapefile. The
// file is read once, on first use.
type ShapefileBounds struct {
	path string

	once  sync.Once
	boxes map[string]geo.BBox
	err   error
}

// NewShapefileBounds reads boxes from path, which may be a .shp file, a
// directory holding one, or a .zip archive.
func NewShapefileBounds(path string) *ShapefileBounds {
	return &ShapefileBounds{path: path}
}

// Bounds implements BoundsSource.
func (s *ShapefileBounds) Bounds(_ context.Context, code string) (geo.BBox, error) {
	s.once.Do(func() {
		s.boxes, s.err = loadShapefileBoxes(s.path)
	})
	if s.err != nil {
		return geo.BBox{}, s.err
	}
	box, ok := s.boxes[strings.ToUpper(code)]
	if !ok {
		return geo.BBox{}, eris.Wrapf(ErrNoBounds, "shapefile has no %s", code)
	}
	return box, nil
}

func loadShapefileBoxes(path string) (map[string]geo.BBox, error) {
	log := zap.L().With(zap.String("component", "gazetteer.shapefile"))

	shpPath, err := resolveShapefile(path)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	var idx []int
	for _, name := range isoFields {
		if i := fieldIndex(reader, name); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, eris.New("gazetteer: shapefile has no ISO_A2 field")
	}

	boxes := make(map[string]geo.BBox)
	for reader.Next() {
		_, shape := reader.Shape()
		if shape == nil {
			continue
		}
		code := ""
		for _, i := range idx {
			v := strings.ToUpper(strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00")))
			if len(v) == 2 {
				code = v
				break
			}
		}
		if code == "" {
			continue
		}

		b := shape.BBox()
		box := geo.BBox{MinLat: b.MinY, MaxLat: b.MaxY, MinLon: b.MinX, MaxLon: b.MaxX}
		if prev, ok := boxes[code]; ok {
			box = prev.Union(box)
		}
		boxes[code] = box
	}

	log.Info("country shapefile loaded", zap.String("path", shpPath), zap.Int("countries", len(boxes)))
	return boxes, nil
}

// resolveShapefile finds the .shp to open, extracting a zip next to it first.
func resolveShapefile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", eris.Wrap(err, "gazetteer: stat shapefile")
	}
	switch {
	case info.IsDir():
		return findFileByExt(path, ".shp")
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		dir := strings.TrimSuffix(path, filepath.Ext(path))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", eris.Wrap(err, "gazetteer: create extract dir")
		}
		if err := extractZIP(path, dir); err != nil {
			return "", eris.Wrap(err, "gazetteer: extract shapefile zip")
		}
		return findFileByExt(dir, ".shp")
	default:
		return path, nil
	}
}

// DownloadNaturalEarth fetches the admin-0 archive into dir and returns its path.
func DownloadNaturalEarth(ctx context.Context, client *http.Client, dir string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	dest := filepath.Join(dir, filepath.Base(NaturalEarthURL))
	zap.L().Info("downloading country shapefile", zap.String("url", NaturalEarthURL))
	if err := downloadFile(ctx, client, NaturalEarthURL, dest); err != nil {
		return "", eris.Wrap(err, "gazetteer: download country shapefile")
	}
	return dest, nil
}

// downloadFile downloads a URL to a local file.
func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, resp.Body); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}

// extractZIP flattens a ZIP archive into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "extract %s", f.Name)
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// fieldIndex returns the index of a named attribute field, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
