package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/config"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/logging"
	"github.com/JakeFAU/product-image-harvester/internal/sitelist"
)

type rootOptions struct {
	configPath string
	sitesPath  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Crawl designer storefronts and download their product images.",
		Long: `harvester discovers product pages on each site of a designer list and
downloads their images once per unique content digest, recording where every
kept image came from.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML or TOML)")
	cmd.PersistentFlags().StringVar(&opts.sitesPath, "sites", "", "CSV file with designer_name and website_url columns")
	_ = cmd.MarkPersistentFlagRequired("sites")

	cmd.AddCommand(newHarvestCmd(opts))
	cmd.AddCommand(newSitesCmd(opts))
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// loadSites reads the site list and reports skipped rows through logger.
func (o *rootOptions) loadSites(logger *zap.Logger) ([]crawler.Site, []sitelist.RowError, error) {
	sites, rowErrs, err := sitelist.ReadFile(o.sitesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read site list: %w", err)
	}
	for _, rowErr := range rowErrs {
		logger.Warn("skipping site row", zap.Int("line", rowErr.Line), zap.String("reason", rowErr.Reason))
	}
	return sites, rowErrs, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return logger, nil
}
