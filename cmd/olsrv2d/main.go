// Command olsrv2d runs the mesh-routing daemon: it loads configuration via
// github.com/spf13/viper (wired through internal/config.Manager), picks an
// originator address per family from the configured interfaces, builds the
// production internal/daemon.Daemon from the real OS/socket/route backends
// and runs it until SIGINT/SIGTERM, with SIGHUP triggering a config reload.
// The command-line surface itself uses github.com/spf13/cobra, the way
// gravitational-teleport and marmos91-dittofs structure their daemon
// entrypoints in the example pack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"olsrv2d/internal/config"
	"olsrv2d/internal/daemon"
	"olsrv2d/internal/netaddr"
	"olsrv2d/internal/osadapter"
	"olsrv2d/internal/rfc5444"
	"olsrv2d/internal/routeinstall"
	"olsrv2d/internal/sched"
	"olsrv2d/internal/sockets"
)

var (
	cfgPath    string
	viewerAddr string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "olsrv2d",
		Short: "OLSRv2/NHDP mesh-routing daemon",
		RunE:  runDaemon,
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to olsrv2d config file (default: ./olsrv2d.yaml or /etc/olsrv2d/olsrv2d.yaml)")
	cmd.Flags().StringVar(&viewerAddr, "viewer-addr", "127.0.0.1:8123", "address for the read-only HTTP/JSON viewer")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug|info|warn|error")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	osAdapter := osadapter.NewLinux()
	originator := pickOriginators(osAdapter, cfg)
	if len(originator) == 0 {
		return fmt.Errorf("no usable originator address found among configured interfaces")
	}

	waiter, err := sockets.NewEpollWaiter()
	if err != nil {
		return fmt.Errorf("opening epoll: %w", err)
	}

	d := daemon.New(
		cfg,
		osAdapter,
		sockets.UnixBackend{},
		waiter,
		routeinstall.NetlinkBackend{},
		daemon.NewDefaultExtensionCodec(),
		rfc5444.GobCodec{},
		rfc5444.GobCodec{},
		sched.NewRealClock(),
		originator,
		log.WithField("component", "daemon"),
	)

	mgr.OnChange(func(old, next *config.Config) {
		d.ReloadInterfaces(next)
	})

	go func() {
		if err := d.Viewer.ListenAndServe(viewerAddr); err != nil {
			log.WithError(err).Warn("viewer server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := mgr.Reload(); err != nil {
				log.WithError(err).Warn("config reload rejected")
			}
		}
	}()

	log.Info("olsrv2d starting")
	d.Start(ctx)
	d.Stop()
	log.Info("olsrv2d stopped")
	return nil
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// pickOriginators selects, per address family, the first routable address
// among the configured interfaces' current OS-reported addresses. Real
// deployments pin an originator explicitly; this picks a stable stand-in
// when none is pinned, the way a daemon bootstrapping for the first time
// must derive identity from whatever the OS already assigned.
func pickOriginators(os osadapter.Adapter, cfg *config.Config) map[netaddr.Family]netaddr.NetAddr {
	out := make(map[netaddr.Family]netaddr.NetAddr)
	for _, icfg := range cfg.Interfaces {
		iface, ok := os.InterfaceByName(icfg.Name)
		if !ok {
			continue
		}
		for _, addr := range iface.Addresses {
			if _, have := out[addr.Family]; have {
				continue
			}
			if os.IsRoutable(addr) {
				out[addr.Family] = addr
			}
		}
	}
	return out
}
