package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OptikR/OptikR-sub005/config"
	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and list every invalid field",
		// Validation failures are the output here, so loading must not
		// abort before RunE.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			a.loader = config.NewLoader(a.configPath())
			a.logger = logging.NopLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			path := a.configPath()
			if path == "" {
				path = "(defaults)"
			}

			_, err := a.loader.Load()
			var verrs config.ValidationErrors
			switch {
			case err == nil:
				_, _ = green.Fprintf(w, "OK %s\n", path)
				return nil
			case errors.As(err, &verrs):
				_, _ = red.Fprintf(w, "INVALID %s\n", path)
				for _, e := range verrs {
					_, _ = fmt.Fprintf(w, "  %s\n", e.Error())
				}
				return fmt.Errorf("%d invalid field(s)", len(verrs))
			default:
				_, _ = red.Fprintf(w, "ERROR %s\n", path)
				return err
			}
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}
