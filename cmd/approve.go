package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/engine"
)

var (
	approveIn       string
	approveApprover string
	approveForce    bool
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a reviewed result and promote it into the validated cache",
	Long:  "Reads a result written by `locate resolve --json`, marks it validated on behalf of --approver and writes it to the cache. Pending results need --force.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		res, err := readResult(approveIn)
		if err != nil {
			return err
		}

		eng, err := buildEngine(ctx, "resolve")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		approved, err := eng.Approve(res.Outcome, approveApprover, approveForce)
		if err != nil {
			return eris.Wrap(err, "approve")
		}
		wr, err := eng.Promote(ctx, res.Query, approved)
		if err != nil {
			return eris.Wrap(err, "approve: promote")
		}

		zap.L().Info("promoted",
			zap.String("key", wr.Key),
			zap.Bool("created", wr.Created),
			zap.String("approver", approveApprover),
		)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(wr)
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveIn, "in", "-", "result JSON file (- for stdin)")
	approveCmd.Flags().StringVar(&approveApprover, "approver", "", "reviewer identity (required)")
	approveCmd.Flags().BoolVar(&approveForce, "force", false, "allow approving a pending result")
	_ = approveCmd.MarkFlagRequired("approver")
	rootCmd.AddCommand(approveCmd)
}

func readResult(path string) (*engine.Result, error) {
	var r io.Reader = os.Stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "approve: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var res engine.Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, eris.Wrap(err, "approve: decode result")
	}
	if res.Query.Empty() {
		return nil, eris.New("approve: result has no query name")
	}
	return &res, nil
}
