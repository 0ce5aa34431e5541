package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/services"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

// ExportCmd writes every link as JSON.
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump all links as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		links, err := a.Gateway.Dump(cmd.Context())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(links)
	},
}

// ImportCmd loads links written by export into the configured store.
var ImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import links from an export file.",
	Long: `Imports links from a JSON file produced by export. Links whose short
code already exists or whose target is not an http(s) URL are skipped. Scan history is not carried over.

Example:
  scanlink import --file links.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		imported, skipped, err := importLinks(cmd.Context(), a.Gateway, f, a.Logger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d links, skipped %d\n", imported, skipped)
		return nil
	},
}

// CreateCmd creates a link through the same validation the API uses.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a short link for an owner.",
	Long: `Creates a short link and prints the tracking URL a QR code should encode.

Example:
  scanlink create --owner me@example.com --name "Menu" --url https://example.com/menu`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		owner, _ := flags.GetString("owner")
		req := ports.CreateLinkRequest{}
		req.Name, _ = flags.GetString("name")
		req.TargetURL, _ = flags.GetString("url")
		req.ShortCode, _ = flags.GetString("code")
		req.Color, _ = flags.GetString("color")
		req.BackgroundColor, _ = flags.GetString("background")

		if expires, _ := flags.GetString("expires"); expires != "" {
			t, err := time.Parse(time.RFC3339, expires)
			if err != nil {
				t, err = time.Parse(time.DateOnly, expires)
			}
			if err != nil {
				return fmt.Errorf("invalid --expires %q: use RFC 3339 or YYYY-MM-DD", expires)
			}
			req.ExpiresAt = &t
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		link, err := a.Links.CreateLink(cmd.Context(), owner, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Short code:   %s\n", link.ShortCode)
		fmt.Fprintf(out, "Target URL:   %s\n", link.TargetURL)
		fmt.Fprintf(out, "Tracking URL: %s%s\n", strings.TrimSuffix(a.Config.BaseURL, "/"), link.TrackingPath())
		if link.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires:      %s\n", link.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	ImportCmd.Flags().StringP("file", "f", "", "JSON file to import")
	_ = ImportCmd.MarkFlagRequired("file")

	CreateCmd.Flags().String("owner", "", "owner account (email)")
	CreateCmd.Flags().String("name", "", "display name, unique per owner")
	CreateCmd.Flags().StringP("url", "u", "", "target URL")
	CreateCmd.Flags().String("code", "", "custom short code (generated when empty)")
	CreateCmd.Flags().String("expires", "", "expiry as RFC 3339 or YYYY-MM-DD")
	CreateCmd.Flags().String("color", "", "QR foreground color")
	CreateCmd.Flags().String("background", "", "QR background color")
	_ = CreateCmd.MarkFlagRequired("owner")
	_ = CreateCmd.MarkFlagRequired("name")
	_ = CreateCmd.MarkFlagRequired("url")

	RootCmd.AddCommand(ExportCmd, ImportCmd, CreateCmd)
}

func importLinks(ctx context.Context, gw ports.LinkGateway, r io.Reader, logger logrus.FieldLogger) (imported, skipped int, err error) {
	var links []domain.Link
	if err := json.NewDecoder(r).Decode(&links); err != nil {
		return 0, 0, fmt.Errorf("decode failed: %w", err)
	}

	for _, l := range links {
		target, err := services.NormalizeTargetURL(l.TargetURL)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"short_code": l.ShortCode,
				"target_url": l.TargetURL,
			}).Warn("Skipping link with invalid target")
			skipped++
			continue
		}
		l.TargetURL = target

		existing, err := gw.GetLinkBySlug(ctx, l.ShortCode)
		if err != nil {
			return imported, skipped, err
		}
		if existing != nil {
			logger.WithField("short_code", l.ShortCode).Info("Skipping existing code")
			skipped++
			continue
		}

		l.ID = 0
		l.ScanCount = 0
		if err := gw.InsertLink(ctx, &l); err != nil {
			if errors.Is(err, domain.ErrShortCodeTaken) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("failed to import %s: %w", l.ShortCode, err)
		}
		imported++
	}
	return imported, skipped, nil
}
