// Command dnsfilterproxy runs the DNS filtering proxy: a client-facing I/O
// core, an upstream-facing I/O core, and the filter pipeline that joins
// them through the outstanding-query table.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nullhorizon/dnsfilterproxy/internal/clientio"
	"github.com/nullhorizon/dnsfilterproxy/internal/config"
	"github.com/nullhorizon/dnsfilterproxy/internal/filter"
	"github.com/nullhorizon/dnsfilterproxy/internal/helpers"
	"github.com/nullhorizon/dnsfilterproxy/internal/logging"
	"github.com/nullhorizon/dnsfilterproxy/internal/policystore"
	"github.com/nullhorizon/dnsfilterproxy/internal/proxytable"
	"github.com/nullhorizon/dnsfilterproxy/internal/status"
	"github.com/nullhorizon/dnsfilterproxy/internal/upstreamio"
)

// daemonChildEnv marks a re-exec'd daemon child, so it doesn't fork again.
const daemonChildEnv = "DNSFILTERPROXY_DAEMON_CHILD"

const defaultDatabasePath = "dnsfilterproxy.db"

// cliFlags holds the one-dash, case-insensitive flags from §6.4.
type cliFlags struct {
	debug     bool
	console   bool
	hexClient bool
	hexServer bool
	hexDB     bool
}

func parseFlags(args []string) cliFlags {
	var f cliFlags
	for _, a := range args {
		switch strings.ToUpper(a) {
		case "-VCB":
			f.hexClient = true
		case "-VSB":
			f.hexServer = true
		case "-VDB":
			f.hexDB = true
		case "-D":
			f.debug = true
		case "-L":
			f.console = true
		}
	}
	return f
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags(os.Args[1:])

	if !flags.console && os.Getenv(daemonChildEnv) == "" {
		if err := daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, ";; error forking daemon process: %v\n", err)
			return 2
		}
		return 0
	}

	cfg, err := config.Load(config.ResolveConfigPath(""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if flags.hexClient {
		cfg.Logging.ClientBinary = 1
	}
	if flags.hexServer {
		cfg.Logging.ServerBinary = 1
	}
	if flags.hexDB {
		cfg.Logging.Database = 1
	}

	log := logging.Configure(flags.debug)
	log.Info("dnsfilterproxy starting",
		"server_port", cfg.General.ServerPort,
		"forward_addr", cfg.Forward.ServerAddr,
		"push_count", cfg.Forward.LocalCount,
	)

	dbPath := cfg.Database.Hostname
	if dbPath == "" {
		dbPath = defaultDatabasePath
	}
	store, err := policystore.Open(dbPath)
	if err != nil {
		log.Error("failed to open policy store", "error", err)
		return 2
	}
	defer store.Close()
	if cfg.Logging.Database != 0 {
		store.EnableQueryLogging(log)
	}

	networks, err := store.LoadNetworkRoster()
	if err != nil {
		log.Error("failed to load network roster", "error", err)
		return 2
	}

	pushCount := helpers.ClampInt(cfg.Forward.LocalCount, 1, 256)
	cfg.Forward.LocalCount = pushCount
	table := proxytable.New(pushCount)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	var exitCode atomic.Int32
	onFatal := func(err error) {
		exitCode.Store(2)
		cancel()
	}

	queryQueue := make(chan proxytable.Ref, 4096)
	replyQueue := make(chan proxytable.Ref, 4096)

	client := clientio.New(log, cfg, table, queryQueue)
	if err := client.Start(cfg); err != nil {
		log.Error("client I/O core failed to start", "error", err)
		return 2
	}

	upstream := upstreamio.New(log, table, replyQueue)
	if err := upstream.Start(cfg); err != nil {
		log.Error("upstream I/O core failed to start", "error", err)
		return 2
	}

	pipeline := filter.New(log, cfg, table, store, networks, client, upstream, onFatal)
	defer pipeline.Stop()

	statusSrv := status.New(cfg, table, pipeline.QueryPool(), pipeline.ReplyPool())

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Error("client I/O core exited", "error", err)
			onFatal(err)
		}
	}()
	go func() {
		if err := upstream.Run(ctx); err != nil {
			log.Error("upstream I/O core exited", "error", err)
			onFatal(err)
		}
	}()
	go pipeline.PumpQueries(ctx, queryQueue)
	go pipeline.PumpReplies(ctx, replyQueue)
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server exited", "error", err)
		}
	}()

	log.Info("status surface listening", "addr", statusSrv.Addr())

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = statusSrv.Shutdown(shutdownCtx)
	shutdownCancel()

	if code := exitCode.Load(); code != 0 {
		return int(code)
	}
	return 0
}

// daemonize re-execs the current binary detached from the controlling
// terminal with its standard streams redirected to the null device,
// mirroring the original proxy's fork-and-reopen-streams behavior. Go's
// runtime cannot safely fork() a running multi-threaded process and keep
// executing Go code in the child, so detachment goes through a fresh
// process instead of raw fork(2).
func daemonize() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	fmt.Printf(";; daemon %d started successfully\n\n", cmd.Process.Pid)
	return nil
}
