// Package main is the operator CLI for autoindex-api. It runs jobs, applies
// migrations and adjusts credits against the same database as the server.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jmylchreest/autoindex-api/internal/logging"
	"github.com/jmylchreest/autoindex-api/internal/version"
)

func main() {
	logging.SetDefault()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "autoindex-ctl",
		Usage:   "operate an autoindex-api deployment",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: json or yaml",
				Value:   "json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "status", Usage: "only report applied and pending migrations"},
				},
				Action: migrateAction,
			},
			{
				Name:   "run-daily",
				Usage:  "run the daily indexing job for every site",
				Action: jobAction("daily"),
			},
			{
				Name:   "retry-failed",
				Usage:  "resubmit URLs whose last submission failed",
				Action: jobAction("retry-failed"),
			},
			{
				Name:   "resync-coverage",
				Usage:  "refresh Search Console coverage for submitted URLs",
				Action: jobAction("resync-coverage"),
			},
			{
				Name:  "run-site",
				Usage: "run the pipeline for one site and print its report",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "site", Usage: "site ID", Required: true},
				},
				Action: runSiteAction,
			},
			{
				Name:   "jobs",
				Usage:  "show the last run of each scheduled job",
				Action: jobRunsAction,
			},
			{
				Name:  "credits",
				Usage: "inspect and adjust a user's credits",
				Subcommands: []*cli.Command{
					{
						Name:   "balance",
						Usage:  "print the balance",
						Flags:  []cli.Flag{userFlag()},
						Action: balanceAction,
					},
					{
						Name:  "transactions",
						Usage: "list ledger entries, newest first",
						Flags: []cli.Flag{
							userFlag(),
							&cli.IntFlag{Name: "limit", Value: 50},
						},
						Action: transactionsAction,
					},
					{
						Name:  "grant",
						Usage: "add goodwill credits",
						Flags: []cli.Flag{
							userFlag(),
							&cli.Int64Flag{Name: "amount", Required: true},
							&cli.StringFlag{Name: "reason", Value: "Goodwill credits"},
						},
						Action: adjustAction(false),
					},
					{
						Name:  "refund",
						Usage: "return credits after a review",
						Flags: []cli.Flag{
							userFlag(),
							&cli.Int64Flag{Name: "amount", Required: true},
							&cli.StringFlag{Name: "reason", Value: "Refund"},
						},
						Action: adjustAction(true),
					},
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					return printResult(c.App.Writer, c.String("output"), version.Get())
				},
			},
			{
				Name:   "quota",
				Usage:  "show today's Google API quota for a user",
				Flags:  []cli.Flag{userFlag()},
				Action: quotaAction,
			},
		},
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Usage: "Clerk user ID", Required: true}
}
