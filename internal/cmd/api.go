package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

func notLoggedIn() error {
	return errors.NewNotAuthenticatedError()
}

func newAPICmd(o *rootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "api <METHOD> <path>",
		Short: "Call the admin API with the current session",
		Long: `Send an authenticated request to the admin API and print the response
body. The path is relative to /api/v1. A renewed token is stored; a rejected
token ends the session.

Examples:
  kbadmin api GET /documents
  kbadmin api POST /queries --data '{"q":"opening hours"}'
  kbadmin api POST /queries --data @query.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if !app.Start(ctx) {
				return notLoggedIn()
			}

			var body io.Reader
			switch {
			case strings.HasPrefix(data, "@"):
				raw, err := os.ReadFile(strings.TrimPrefix(data, "@"))
				if err != nil {
					return errors.Wrap(errors.ErrCodeInvalidInput, "reading request body", err)
				}
				body = bytes.NewReader(raw)
			case data != "":
				body = strings.NewReader(data)
			}

			resp, err := app.Client.Do(ctx, args[0], args[1], body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return errors.NewProviderUnreachableError(app.Client.BaseURL(), err)
			}

			switch {
			case resp.StatusCode < http.StatusBadRequest:
				return nil
			case !app.Store.IsAuthenticated():
				return errors.NewSessionExpiredError()
			case resp.StatusCode == http.StatusForbidden:
				return errors.New(errors.ErrCodeProviderRejected, "the provider refused the request").
					WithSuggestion("Your role may not have access to " + args[1])
			default:
				return errors.New(errors.ErrCodeProviderResponse, fmt.Sprintf("provider returned status %d", resp.StatusCode))
			}
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "request body, or @file to read it from a file")

	return cmd
}
