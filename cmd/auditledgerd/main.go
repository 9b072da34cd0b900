// Command auditledgerd runs one replica of the audit ledger: it loads the
// static peer list and the mandatory leader configuration (missing or
// malformed leader.json is a fatal startup error, spec §6/§7), recovers any
// audits left in the local mempool from a previous run, and serves the
// FileAuditService/BlockChainService RPCs until terminated. Structured
// after cmd/berith's node-bootstrap main, trimmed to this module's single
// binary.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/inconshreveable/log15"
	"github.com/shirou/gopsutil/process"
	"gopkg.in/urfave/cli.v1"

	"github.com/ibizsoftware/auditledger/artifact"
	"github.com/ibizsoftware/auditledger/chainstore"
	"github.com/ibizsoftware/auditledger/config"
	"github.com/ibizsoftware/auditledger/election"
	"github.com/ibizsoftware/auditledger/heartbeat"
	"github.com/ibizsoftware/auditledger/mempool"
	"github.com/ibizsoftware/auditledger/peertable"
	"github.com/ibizsoftware/auditledger/rpc"
	"github.com/ibizsoftware/auditledger/scheduler"
	"github.com/ibizsoftware/auditledger/server"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Usage: "directory holding peers.json, leader.json, chain.json, mempool.dat, and blocks/",
		Value: ".",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "address to listen on",
		Value: "0.0.0.0:50051",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "optional TOML file overriding --listen/--data-dir",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "auditledgerd"
	app.Usage = "replicated file-access audit ledger"
	app.Flags = []cli.Flag{dataDirFlag, listenFlag, configFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("auditledgerd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	logger := log.New("component", "main")
	dataDir := ctx.String(dataDirFlag.Name)
	listen := ctx.String(listenFlag.Name)

	if path := ctx.String(configFlag.Name); path != "" {
		overrides, err := config.LoadOverrides(path)
		if err != nil {
			return err
		}
		listen, dataDir = overrides.Apply(listen, dataDir)
	}

	logSelfStats(logger)

	peerAddrs, err := config.LoadPeers(filepath.Join(dataDir, "peers.json"))
	if err != nil {
		logger.Warn("no peer list loaded, running standalone", "err", err)
	}

	leaderCfgPath := filepath.Join(dataDir, "leader.json")
	leaderCfg, leaderErr := config.LoadLeaderConfig(leaderCfgPath)
	if leaderErr != nil {
		return fmt.Errorf("fatal: %w", leaderErr)
	}
	isStaticLeader := leaderCfg.LeaderAddr == listen

	mp := mempool.New(filepath.Join(dataDir, "mempool.dat"))
	recovered := mp.LoadAll()
	logger.Info("recovered mempool from disk", "audits", len(recovered))

	chain := chainstore.New(filepath.Join(dataDir, "chain.json"))
	table := peertable.New(heartbeat.DefaultConfig(listen).PeerTimeout)
	state := election.NewState()
	store := artifact.New(filepath.Join(dataDir, "blocks"))

	if isStaticLeader {
		state.SetLeader(listen)
	}

	peers := make([]rpc.Peer, 0, len(peerAddrs))
	for _, addr := range peerAddrs {
		if addr == listen {
			continue
		}
		peers = append(peers, rpc.Peer{Address: addr, Client: rpc.NewClient("http://" + addr)})
	}

	schedCfg := scheduler.DefaultConfig(leaderCfg.BatchSize, leaderCfg.BatchIntervalSecs)
	hbCfg := heartbeat.DefaultConfig(listen)
	elCfg := election.DefaultConfig(listen)

	replica := server.New(listen, mp, chain, table, state, store, peers, schedCfg, hbCfg, elCfg)
	replica.Start()
	defer replica.Stop()

	rpcServer := rpc.NewServer(replica, replica)
	httpServer := &http.Server{Addr: listen, Handler: rpcServer}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listen, "peers", len(peers))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigCh:
		logger.Info("shutting down")
		_ = httpServer.Close()
	}
	return nil
}

func logSelfStats(logger log.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	cpuPercent, _ := proc.CPUPercent()
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		logger.Info("startup", "pid", os.Getpid(), "cpu_percent", cpuPercent)
		return
	}
	logger.Info("startup", "pid", os.Getpid(), "cpu_percent", cpuPercent, "rss_bytes", memInfo.RSS)
}
