package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/services"
)

// OpenCmd runs a short code through the redirect pipeline the way a scan
// would: resolve, record, wait out the grace delay, then print the target.
var OpenCmd = &cobra.Command{
	Use:   "open <code>",
	Short: "Resolve a short code and record a scan.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		client := domain.ClientContext{}
		client.UserAgent, _ = flags.GetString("user-agent")
		client.Country, _ = flags.GetString("country")
		client.City, _ = flags.GetString("city")
		client.Referrer, _ = flags.GetString("referrer")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		target, err := openCode(cmd, a.Redirects, args[0], client)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), target)
		return nil
	},
}

func init() {
	OpenCmd.Flags().String("user-agent", "scanlink-cli", "User-Agent recorded with the scan")
	OpenCmd.Flags().String("country", "", "ISO country code recorded with the scan")
	OpenCmd.Flags().String("city", "", "city recorded with the scan")
	OpenCmd.Flags().String("referrer", "", "referrer recorded with the scan")

	RootCmd.AddCommand(OpenCmd)
}

func openCode(cmd *cobra.Command, svc *services.RedirectService, code string, client domain.ClientContext) (string, error) {
	ctx := cmd.Context()
	navigated := make(chan string, 1)
	session := svc.NewSession(code, client, services.NavigatorFunc(func(target string) {
		navigated <- target
	}))
	defer session.Close()

	session.Start(ctx)
	<-session.Done()
	if session.State() == services.StateNotFound {
		return "", errors.New(session.Reason())
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Redirecting in %s...\n", svc.Grace())

	select {
	case target := <-navigated:
		return target, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
