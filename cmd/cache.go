package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/store"
)

var (
	cacheCountry string
	cacheLimit   int
	cacheOffset  int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the validated location cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached locations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		entries, err := c.List(ctx, store.ListFilter{CountryCode: cacheCountry, Limit: cacheLimit, Offset: cacheOffset})
		if err != nil {
			return eris.Wrap(err, "cache list")
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tCOUNTRY\tLAT\tLON\tSOURCE\tCONFIDENCE\tAPPROVED BY\tPROMOTED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\t%s\t%.3f\t%s\t%s\n",
				e.Key, e.CountryCode, e.Coord.Lat, e.Coord.Lon,
				e.Provenance.Source, e.Provenance.Confidence, e.Provenance.ApprovedBy,
				e.Provenance.PromotedAt.Format("2006-01-02 15:04"),
			)
		}
		return tw.Flush()
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <name>",
	Short: "Remove a cached location by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		removed, err := c.Invalidate(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cache invalidate")
		}
		if !removed {
			return eris.Errorf("cache invalidate: no entry for %q", args[0])
		}
		zap.L().Info("cache entry removed", zap.String("key", store.Key(args[0])))
		return nil
	},
}

func init() {
	cacheListCmd.Flags().StringVar(&cacheCountry, "country", "", "filter by ISO country code")
	cacheListCmd.Flags().IntVar(&cacheLimit, "limit", 100, "max entries")
	cacheListCmd.Flags().IntVar(&cacheOffset, "offset", 0, "entries to skip")
	cacheCmd.AddCommand(cacheListCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(cmd *cobra.Command) (store.ValidatedCache, error) {
	c, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL, poolConfig())
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	if err := c.Migrate(cmd.Context()); err != nil {
		_ = c.Close()
		return nil, eris.Wrap(err, "migrate cache")
	}
	return c, nil
}
