package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/app"
	"github.com/JakeFAU/product-image-harvester/internal/config"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

type harvestOptions struct {
	maxImages       int
	concurrentSites int
	maxPages        int
}

func newHarvestCmd(root *rootOptions) *cobra.Command {
	opts := &harvestOptions{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest product images from every site in the list",
		Long: `Crawls each site breadth-first for product pages, downloads their images
in bounded batches and writes provenance logs plus a markdown summary.
Interrupting the run stops admitting new sites; running sites drain first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cmd.OutOrStdout(), root, cfg)
		},
	}
	cmd.Flags().IntVar(&opts.maxImages, "max-images", 0, "images to keep per site (overrides download.max_images_per_site)")
	cmd.Flags().IntVar(&opts.concurrentSites, "concurrent-sites", 0, "sites harvested at once (overrides crawler.concurrent_sites)")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "pages visited per site (overrides crawler.max_pages)")
	return cmd
}

// apply copies explicitly set flags over cfg and revalidates it.
func (o *harvestOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-images") {
		cfg.Download.MaxImagesPerSite = o.maxImages
	}
	if flags.Changed("concurrent-sites") {
		cfg.Crawler.ConcurrentSites = o.concurrentSites
	}
	if flags.Changed("max-pages") {
		cfg.Crawler.MaxPages = o.maxPages
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runHarvest(ctx context.Context, out io.Writer, root *rootOptions, cfg config.Config) (err error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sites, _, err := root.loadSites(logger)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return errors.New("site list has no usable rows")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", cerr)
		}
	}()

	logger.Info("harvest starting", zap.Int("sites", len(sites)))
	stats, err := a.Run(ctx, sites)
	printTotals(out, stats)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warn("harvest interrupted", zap.Int("skipped", len(stats.Skipped)))
	}
	return nil
}

func printTotals(out io.Writer, stats crawler.RunStats) {
	t := stats.Totals
	fmt.Fprintf(out, "run %s: %d sites (%d failed, %d skipped)\n", stats.RunID, t.Sites, t.SitesFailed, t.SitesSkipped)
	fmt.Fprintf(out, "pages %d, product pages %d\n", t.PagesVisited, t.ProductPages)
	fmt.Fprintf(out, "images kept %d, duplicates %d, failed %d, rejected %d\n", t.Kept, t.Duplicates, t.Failed, t.Rejected)
}
