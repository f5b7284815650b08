package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	masterCore "github.com/pyropy/gfs/core/master"
	"github.com/pyropy/gfs/lib/logger"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

func main() {
	log, err := logger.New("master")
	if err != nil {
		fmt.Println("Error constructing logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	app := &cli.App{
		Name:  "master",
		Usage: "run the gfs master",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"MASTER_CONFIG"},
			},
		},
		Action: func(cctx *cli.Context) error {
			return run(cctx.Context, log, cctx.String("config"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("startup", "ERROR", err)
	}
}

func run(ctx context.Context, log *zap.SugaredLogger, configPath string) error {
	cfg, err := masterCore.GetConfig(configPath)
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []masterCore.Option
	if cfg.OpLog.Path != "" {
		opLog, err := masterCore.OpenOpLog(cfg.OpLog.Path)
		if err != nil {
			log.Errorw("startup", "error", "failed to open op log", "path", cfg.OpLog.Path)
			return err
		}
		defer opLog.Close()

		opts = append(opts, masterCore.WithOpLog(opLog))
	}

	master := masterCore.NewMaster(cfg, chunkServerRPC.RPCDialer{}, log, opts...)

	err = master.Metadata.Recover(ctx)
	if err != nil {
		log.Errorw("startup", "error", "op log replay failed")
		return err
	}

	err = rpc.RegisterName("MasterAPI", masterCore.NewAPI(master))
	if err != nil {
		return err
	}

	rpc.HandleHTTP()

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed", "address", addr)
		return err
	}

	log.Infow("startup", "status", "master rpc server started", "address", l.Addr().String())
	defer log.Infow("shutdown", "status", "master rpc server stopped", "address", l.Addr().String())
	go http.Serve(l, nil)

	log.Infow("startup", "status", "starting background monitors")
	master.Start(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "master rpc server stopping", "address", l.Addr().String())

	return l.Close()
}
