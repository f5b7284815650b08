package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/pyropy/gfs/core/client"
	"github.com/pyropy/gfs/core/model"
)

var pathFlag = &cli.StringFlag{
	Name:     "path",
	Required: true,
	Usage:    "absolute path of the file on gfs",
}

var indexFlag = &cli.UintFlag{
	Name:  "index",
	Usage: "chunk index",
}

var offsetFlag = &cli.Uint64Flag{
	Name:  "offset",
	Usage: "byte offset within the file",
}

func dial(cctx *cli.Context) (*client.Client, error) {
	cfg, err := client.GetConfig(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	if cctx.IsSet("master") {
		cfg.Master.Addr = cctx.String("master")
	}

	if cctx.IsSet("cache") {
		cfg.Cache.Path = cctx.String("cache")
	}

	return client.Dial(cfg, log)
}

var createCmd = &cli.Command{
	Name:  "create",
	Usage: "Create a file with its first chunk",
	Flags: []cli.Flag{pathFlag},
	Action: func(cctx *cli.Context) error {
		c, err := dial(cctx)
		if err != nil {
			return err
		}
		defer c.Close()

		md, err := c.Create(cctx.Context, cctx.String("path"))
		if err != nil {
			return err
		}

		printChunk(os.Stdout, md)
		return nil
	},
}

var deleteCmd = &cli.Command{
	Name:  "delete",
	Usage: "Delete a file",
	Flags: []cli.Flag{pathFlag},
	Action: func(cctx *cli.Context) error {
		c, err := dial(cctx)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Delete(cctx.Context, cctx.String("path"))
	},
}

var statCmd = &cli.Command{
	Name:  "stat",
	Usage: "Show where a chunk lives",
	Flags: []cli.Flag{
		pathFlag,
		indexFlag,
		&cli.StringFlag{
			Name:  "mode",
			Value: "read",
			Usage: "open mode, read or write",
		},
	},
	Action: func(cctx *cli.Context) error {
		mode := model.ParseOpenMode(cctx.String("mode"))
		if mode == model.OpenModeUnknown {
			return fmt.Errorf("unknown mode %q", cctx.String("mode"))
		}

		c, err := dial(cctx)
		if err != nil {
			return err
		}
		defer c.Close()

		md, err := c.Stat(cctx.Context, cctx.String("path"), uint32(cctx.Uint("index")), mode)
		if err != nil {
			return err
		}

		printChunk(os.Stdout, md)
		return nil
	},
}

var readCmd = &cli.Command{
	Name:  "read",
	Usage: "Read bytes from a file to stdout",
	Flags: []cli.Flag{
		pathFlag,
		offsetFlag,
		&cli.Uint64Flag{
			Name:     "length",
			Required: true,
			Usage:    "number of bytes to read",
		},
	},
	Action: func(cctx *cli.Context) error {
		c, err := dial(cctx)
		if err != nil {
			return err
		}
		defer c.Close()

		data, err := c.ReadFile(cctx.Context, cctx.String("path"), cctx.Uint64("offset"), cctx.Uint64("length"))
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(data)
		return err
	},
}

var writeCmd = &cli.Command{
	Name:  "write",
	Usage: "Write a local file into a file on gfs, creating chunks as needed",
	Flags: []cli.Flag{
		pathFlag,
		offsetFlag,
		&cli.StringFlag{
			Name:     "file",
			Required: true,
			Usage:    "local file to write, - for stdin",
		},
	},
	Action: func(cctx *cli.Context) error {
		data, err := readInput(cctx.String("file"))
		if err != nil {
			return err
		}

		c, err := dial(cctx)
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.WriteFile(cctx.Context, cctx.String("path"), cctx.Uint64("offset"), data)
		if err != nil {
			return err
		}

		log.Infow("write", "path", cctx.String("path"), "bytes", n)
		return nil
	},
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}

	return os.ReadFile(name)
}

func printChunk(w io.Writer, md model.FileChunkMetadata) {
	locs := make([]string, 0, len(md.Locations))
	for _, l := range md.Locations {
		locs = append(locs, l.String())
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Handle", "Version", "Primary", "Locations"})
	table.Append([]string{md.ChunkHandle, fmt.Sprint(md.Version), md.Primary.String(), strings.Join(locs, ",")})
	table.Render()
}
