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
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pyropy/gfs/core/chunkserver"
	"github.com/pyropy/gfs/lib/logger"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
	masterRPC "github.com/pyropy/gfs/rpc/master"
)

const leaseSweepInterval = time.Second

func main() {
	log, err := logger.New("chunk-server")
	if err != nil {
		fmt.Println("Error constructing logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	app := &cli.App{
		Name:  "chunkserver",
		Usage: "run a gfs chunk server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"CHUNK_SERVER_CONFIG"},
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
	cfg, err := chunkserver.GetConfig(configPath)
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := chunkserver.OpenFileChunkManager(cfg.Chunks.Path, cfg.Chunks.BlockSize)
	if err != nil {
		log.Errorw("startup", "error", "failed to open chunk store", "path", cfg.Chunks.Path)
		return err
	}
	defer chunks.Close()

	chunkServer := chunkserver.NewChunkServer(cfg, chunks, chunkServerRPC.RPCDialer{}, log)

	for name, rcvr := range map[string]interface{}{
		"FileService":    chunkserver.NewFileService(chunkServer),
		"LeaseService":   chunkserver.NewLeaseService(chunkServer),
		"ControlService": chunkserver.NewControlService(chunkServer),
	} {
		err = rpc.RegisterName(name, rcvr)
		if err != nil {
			return err
		}
	}

	rpc.HandleHTTP()

	addr := chunkServer.Location.Address()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed", "address", addr)
		return err
	}

	log.Infow("startup", "status", "chunkserver rpc server started", "address", addr)
	defer log.Infow("shutdown", "status", "chunkserver rpc server stopped", "address", addr)
	go http.Serve(l, nil)

	master, err := masterRPC.Dial(cfg.Master.Addr)
	if err != nil {
		log.Errorw("startup", "error", "master unreachable", "address", cfg.Master.Addr)
		return err
	}
	defer master.Close()

	go chunkServer.StartLeaseMonitor(ctx, leaseSweepInterval)
	go chunkServer.StartReporting(ctx, master, cfg.Report.Interval)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "chunkserver rpc server stopping", "address", addr)

	return l.Close()
}
