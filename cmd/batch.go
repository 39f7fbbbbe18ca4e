package main

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
)

var (
	batchIn          string
	batchOut         string
	batchLimit       int
	batchConcurrency int
	batchProgress    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve and validate every location in a CSV (never promotes)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := os.Open(batchIn)
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", batchIn)
		}
		defer in.Close() //nolint:errcheck

		queries, err := readQueries(in)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(queries) > batchLimit {
			queries = queries[:batchLimit]
		}

		eng, err := buildEngine(ctx, "resolve")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		var bar *progressbar.ProgressBar
		if batchProgress {
			bar = progressbar.NewOptions(len(queries),
				progressbar.OptionSetDescription("Locating"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		rows, err := processBatch(ctx, queries, concurrency, eng.Locate, bar)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if batchOut != "" && batchOut != "-" {
			f, err := os.Create(batchOut)
			if err != nil {
				return eris.Wrapf(err, "batch: create %s", batchOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeRows(out, rows)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchIn, "in", "", "input CSV with name and optional country_hint columns (required)")
	batchCmd.Flags().StringVar(&batchOut, "out", "-", "output CSV path (- for stdout)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of rows to process (0 for all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent queries (default from config)")
	batchCmd.Flags().BoolVar(&batchProgress, "progress", true, "show a progress bar on stderr")
	_ = batchCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(batchCmd)
}

type batchInput struct {
	Name        string `csv:"name"`
	CountryHint string `csv:"country_hint,omitempty"`
}

// batchRow is one output line.
type batchRow struct {
	Name        string  `csv:"name"`
	CountryHint string  `csv:"country_hint"`
	Status      string  `csv:"status"`
	Confidence  float64 `csv:"confidence"`
	Source      string  `csv:"source"`
	Lat         string  `csv:"lat"`
	Lon         string  `csv:"lon"`
	Reason      string  `csv:"reason"`
	Error       string  `csv:"error"`
}

// locateFunc is the callback signature for locating one query.
type locateFunc func(ctx context.Context, q model.LocationQuery) (*engine.Result, error)

func readQueries(r io.Reader) ([]model.LocationQuery, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read header")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "batch: csv decoder")
	}

	var out []model.LocationQuery
	for {
		var in batchInput
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "batch: decode row %d", len(out)+2)
		}
		q := model.LocationQuery{Name: strings.TrimSpace(in.Name), CountryHint: strings.TrimSpace(in.CountryHint)}
		if q.Empty() {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// processBatch locates queries concurrently. Individual failures become rows
// with an error; rows keep the input order.
func processBatch(ctx context.Context, queries []model.LocationQuery, concurrency int, locate locateFunc, bar *progressbar.ProgressBar) ([]batchRow, error) {
	if len(queries) == 0 {
		zap.L().Info("no queries to process")
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("queries", len(queries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	rows := make([]batchRow, len(queries))
	var counts [4]atomic.Int64 // validated, needs_review, pending, rejected
	var failed atomic.Int64

	for i, q := range queries {
		g.Go(func() error {
			defer func() {
				if bar != nil {
					_ = bar.Add(1)
				}
			}()

			res, err := locate(gctx, q)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				zap.L().Warn("locate failed", zap.String("query", q.Name), zap.Error(err))
				rows[i] = batchRow{Name: q.Name, CountryHint: q.CountryHint, Error: err.Error()}
				return nil // don't abort batch on individual failure
			}
			counts[3-res.Outcome.Status.Rank()].Add(1)
			rows[i] = toRow(res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("needs_review", counts[1].Load()),
		zap.Int64("pending", counts[2].Load()),
		zap.Int64("rejected", counts[3].Load()),
		zap.Int64("failed", failed.Load()),
	)
	return rows, nil
}

func toRow(res *engine.Result) batchRow {
	o := res.Outcome
	row := batchRow{
		Name:        res.Query.Name,
		CountryHint: res.Query.CountryHint,
		Status:      string(o.Status),
		Confidence:  o.Confidence,
		Source:      string(o.RecommendedSource),
		Reason:      o.Reason,
	}
	if o.RecommendedCoord != nil {
		row.Lat = formatCoord(o.RecommendedCoord.Lat)
		row.Lon = formatCoord(o.RecommendedCoord.Lon)
	}
	return row
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeRows(w io.Writer, rows []batchRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(batchRow{}); err != nil {
		return eris.Wrap(err, "batch: write header")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return eris.Wrap(err, "batch: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "batch: flush")
}
