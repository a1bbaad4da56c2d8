package main

import (
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/library-circulation-go/internal/simulation"
)

func newSimulateCommand() *cobra.Command {
	cfg := simulation.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine with a rate-limited stream of circulation scenarios",
		Long: "Onboards simulation members and books, then runs borrows, returns, renewals, reservations\n" +
			"and fine queries at the given rate until --duration elapses or the process is interrupted.",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			sim, err := simulation.New(a.engine, cfg, a.logger)
			if err != nil {
				return err
			}

			if err = sim.Setup(cmd.Context()); err != nil {
				return err
			}

			report, err := sim.Run(cmd.Context())
			if err != nil {
				return err
			}

			return a.print(report)
		}),
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Rate, "rate", cfg.Rate, "scenarios per second")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent workers")
	flags.DurationVar(&cfg.Duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	flags.IntVar(&cfg.Members, "members", cfg.Members, "number of simulation members")
	flags.IntVar(&cfg.Books, "books", cfg.Books, "number of simulation books")
	flags.IntVar(&cfg.CopiesPerBook, "copies", cfg.CopiesPerBook, "copies per simulation book")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")

	return cmd
}
