package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pyropy/gfs/lib/logger"
)

var log, _ = logger.New("client")

func main() {
	app := &cli.App{
		Name:  "client",
		Usage: "talk to a gfs cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a yaml config file",
				EnvVars: []string{"CLIENT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "master",
				Usage: "master rpc address, overrides the config",
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "directory of the metadata cache, overrides the config",
			},
		},
		Commands: []*cli.Command{
			createCmd,
			deleteCmd,
			statCmd,
			readCmd,
			writeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
