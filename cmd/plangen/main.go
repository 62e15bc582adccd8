package main

import (
	"fmt"
	"os"
	"path"

	"github.com/urfave/cli/v2"

	"github.com/multios-dev/syscore/syserr"
)

var outPath string

func main() {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Usage:       "path to write the plan file to; defaults to ./recovery-plans.toml",
				Destination: &outPath,
			},
		},
		Name:  "plangen",
		Usage: "generate a recovery-plan TOML file seeded with the default plans",
		Action: func(cCtx *cli.Context) error {
			if outPath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to getwd: %w", err)
				}

				outPath = path.Join(wd, "recovery-plans.toml")
			}

			bts, err := syserr.DefaultPlans().MarshalTOML()
			if err != nil {
				return fmt.Errorf("failed to marshal default plans: %w", err)
			}

			if err := os.WriteFile(outPath, bts, 0o644); err != nil {
				return cli.Exit(
					fmt.Sprintf("ERROR: failed to write plan file: %v", err),
					2,
				)
			}

			fmt.Printf("wrote default recovery plans to %s\n", outPath)

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
