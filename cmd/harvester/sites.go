package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/app"
	"github.com/JakeFAU/product-image-harvester/internal/config"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/sitelist"
)

func newSitesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Validate the site list and print each site's resolved settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			table, err := sitelist.LoadTable(cfg.Sites.OverridesFile)
			if err != nil {
				return fmt.Errorf("load site overrides: %w", err)
			}
			sites, rowErrs, err := root.loadSites(zap.NewNop())
			if err != nil {
				return err
			}
			return printSites(cmd.OutOrStdout(), cfg, table, sites, rowErrs)
		},
	}
}

func printSites(out io.Writer, cfg config.Config, table *sitelist.Table, sites []crawler.Site, rowErrs []sitelist.RowError) error {
	defaults := app.Defaults(cfg)
	rows := make([][]string, 0, len(sites))
	for _, site := range sites {
		resolved := table.Resolve(site, defaults)
		rows = append(rows, []string{
			resolved.Site.Name,
			resolved.Domain,
			resolved.Slug,
			strconv.FormatFloat(resolved.RequestsPerSecond, 'g', -1, 64),
			strconv.Itoa(resolved.MaxPages),
			strconv.Itoa(resolved.MaxImages),
			strconv.Itoa(resolved.DetectionThreshold),
			strconv.FormatBool(resolved.RequiresRendering),
			orDash(resolved.ProductSitemap),
		})
	}

	md := markdown.NewMarkdown(out)
	md.H2f("Sites (%d)", len(sites))
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Site", "Domain", "Slug", "Rate/s", "Max pages", "Max images", "Threshold", "Render", "Sitemap"},
		Rows:   rows,
	})
	if len(rowErrs) > 0 {
		skipped := make([]string, 0, len(rowErrs))
		for _, rowErr := range rowErrs {
			skipped = append(skipped, rowErr.Error())
		}
		md.PlainText("")
		md.H3f("Skipped rows (%d)", len(rowErrs))
		md.PlainText("")
		md.BulletList(skipped...)
	}
	if err := md.Build(); err != nil {
		return fmt.Errorf("render sites: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
