package main

import (
	"io"

	"github.com/spf13/cobra"
)

const (
	flagEnvFile = "env-file"
	flagCatalog = "catalog"
)

// newRootCommand builds the command tree. Commands that need the engine open it in their RunE
// through withApp, so "help" and flag errors never touch the database.
func newRootCommand(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "circulation",
		Short:         "Library circulation: loans, returns, renewals, reservations and fines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().String(flagEnvFile, ".env", "dotenv file to read configuration from")
	root.PersistentFlags().String(flagCatalog, "", "JSON file mapping book ids to catalog metadata")

	root.AddCommand(
		newInitCommand(),
		newPolicyCommand(),
		newMemberCommand(),
		newBookCommand(),
		newBorrowCommand(),
		newReturnCommand(),
		newRenewCommand(),
		newReserveCommand(),
		newCancelCommand(),
		newExpireCommand(),
		newReportCommand(),
		newSimulateCommand(),
	)

	return root
}

// withApp adapts an operation on the app into a cobra RunE.
func withApp(run func(cmd *cobra.Command, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString(flagEnvFile)
		catalogFile, _ := cmd.Flags().GetString(flagCatalog)

		a, err := openApp(cmd.Context(), envFile, catalogFile, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		runErr := run(cmd, a)
		closeErr := a.close()

		if runErr != nil {
			return runErr
		}

		return closeErr
	}
}
