package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "medrecords",
		Usage: "Medical records request orchestration and fax matching",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-prefix",
				Aliases: []string{"p"},
				Usage:   "Environment variable prefix",
				Value:   "",
				EnvVars: []string{"MEDRECORDS_ENV_PREFIX"},
			},
		},
		Commands: []*cli.Command{
			serveCommand,
			migrateCommand,
			sweepCommand,
			rematchCommand,
			inspectCommand,
			seedCommand,
			nanoidCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("application failed")
	}
}
