package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
)

var (
	resolveCountry string
	resolveJSON    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve and validate one location (never promotes)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, err := buildEngine(ctx, "resolve")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		q := model.LocationQuery{Name: strings.Join(args, " "), CountryHint: resolveCountry}
		res, err := eng.Locate(ctx, q)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		if resolveJSON {
			return writeResultJSON(cmd.OutOrStdout(), res)
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveCountry, "country", "", "ISO 3166-1 alpha-2 country hint")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func writeResultJSON(w io.Writer, res *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "resolve: encode result")
}

// printResult writes a short human-readable summary of a result.
func printResult(w io.Writer, res *engine.Result) error {
	o := res.Outcome
	fmt.Fprintf(w, "query:       %s\n", res.Query.Name)
	fmt.Fprintf(w, "status:      %s\n", o.Status)
	fmt.Fprintf(w, "confidence:  %.3f\n", o.Confidence)
	if o.RecommendedCoord != nil {
		fmt.Fprintf(w, "recommended: %s %s\n", o.RecommendedSource, o.RecommendedCoord)
	}
	if o.Reason != "" {
		fmt.Fprintf(w, "reason:      %s\n", o.Reason)
	}
	if res.Candidates == nil {
		return nil
	}
	fmt.Fprintln(w, "sources:")
	for _, id := range res.Candidates.Sources() {
		c, _ := res.Candidates.Get(id)
		if !c.OK {
			fmt.Fprintf(w, "  %-12s %s\n", id, c.ErrorKind)
			continue
		}
		s := o.Sources[id]
		flags := ""
		if s.Outlier {
			flags += " outlier"
		}
		if s.OutsideBounds {
			flags += " outside-bounds"
		}
		fmt.Fprintf(w, "  %-12s %s conf=%.3f sim=%.3f prox=%.2f%s\n", id, c.Coord, s.Confidence, s.NameSimilarity, s.Proximity, flags)
	}
	return nil
}
