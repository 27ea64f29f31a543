package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oobits/snare/internal/auth"
	"github.com/oobits/snare/internal/config"
	"github.com/oobits/snare/internal/db"
	"github.com/oobits/snare/internal/events"
	"github.com/oobits/snare/internal/geo"
	"github.com/oobits/snare/internal/logging"
	"github.com/oobits/snare/internal/server"
	"github.com/oobits/snare/internal/subdomain"
	"github.com/oobits/snare/internal/sweep"
)

var serverFlags struct {
	configPath string
	domain     string
	serverIP   string
	dbPath     string
	geoDBPath  string
	httpPort   int
	dnsPort    int
	apiPort    int
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start all listeners (DNS, HTTP, API)",
	Long: `Start the snare server with DNS, HTTP, and management API listeners.

The DNS listener answers every query under the configured wildcard zone
and records lookups against registered subdomains. The HTTP listener
captures requests to <label>.<domain> and serves ephemeral scripts.

Ports 80 and 53 require root or 'setcap cap_net_bind_service'.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverFlags.configPath, "config", os.Getenv("SNARE_CONFIG"), "path to YAML config file")
	serverCmd.Flags().StringVar(&serverFlags.domain, "domain", "", "wildcard base zone for subdomain extraction")
	serverCmd.Flags().StringVar(&serverFlags.serverIP, "server-ip", "", "IPv4 address returned for A queries")
	serverCmd.Flags().StringVar(&serverFlags.dbPath, "db", "", "database path")
	serverCmd.Flags().StringVar(&serverFlags.geoDBPath, "geoip-db", "", "MaxMind GeoIP2 database path")
	serverCmd.Flags().IntVar(&serverFlags.httpPort, "http-port", 0, "HTTP capture port")
	serverCmd.Flags().IntVar(&serverFlags.dnsPort, "dns-port", 0, "DNS port (53 requires root)")
	serverCmd.Flags().IntVar(&serverFlags.apiPort, "api-port", 0, "management API port")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serverFlags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	count, err := db.CountAPIKeys(database)
	if err != nil {
		return fmt.Errorf("count API keys: %w", err)
	}
	if count == 0 {
		displayKey, prefix, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generate API key: %w", err)
		}
		if _, err := db.CreateAPIKey(database, prefix, hash); err != nil {
			return fmt.Errorf("create API key: %w", err)
		}
		fmt.Println("=============================================================")
		fmt.Println("API KEY CREATED (save this, it will not be shown again):")
		fmt.Println(displayKey)
		fmt.Println("=============================================================")
	}

	var locator geo.Locator = geo.Noop{}
	if cfg.GeoDBPath != "" {
		mm, err := geo.Open(cfg.GeoDBPath)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		defer mm.Close()
		locator = mm
		logger.Info("geolocation enabled", zap.String("db", cfg.GeoDBPath))
	}

	hub := events.NewHub()
	directory := subdomain.NewDirectory(database, cfg.SubdomainTTL)

	captureSrv := &server.CaptureServer{
		DB:        database,
		Directory: directory,
		Bus:       hub,
		Geo:       locator,
		Domain:    cfg.Domain,
		Logger:    logger.Named("http"),
	}
	captureServer := server.NewManagedServer("http",
		server.DefaultServerConfig(fmt.Sprintf(":%d", cfg.HTTPPort), captureSrv, logger.Named("http")))

	logger.Info("starting http server", logging.Port(cfg.HTTPPort))
	captureServer.Start()
	if err := captureServer.WaitForStartup(100 * time.Millisecond); err != nil {
		return err
	}

	apiSrv := &server.APIServer{
		DB:        database,
		Directory: directory,
		Hub:       hub,
		Domain:    cfg.Domain,
		ScriptTTL: cfg.ScriptTTL,
		Logger:    logger.Named("api"),
	}
	apiCfg := server.DefaultServerConfig(fmt.Sprintf(":%d", cfg.APIPort), apiSrv.Handler(), logger.Named("api"))
	// No write deadline: the events endpoint holds its stream open.
	apiCfg.WriteTimeout = 0
	apiServer := server.NewManagedServer("api", apiCfg)

	logger.Info("starting api server", logging.Port(cfg.APIPort))
	apiServer.Start()
	if err := apiServer.WaitForStartup(100 * time.Millisecond); err != nil {
		return err
	}

	dnsSrv := &server.DNSServer{
		DB:        database,
		Directory: directory,
		Bus:       hub,
		Geo:       locator,
		Domain:    cfg.Domain,
		ServerIP:  cfg.ServerIP,
		Logger:    logger.Named("dns"),
	}
	if err := dnsSrv.Start(cfg.DNSPort); err != nil {
		return fmt.Errorf("start DNS server: %w", err)
	}

	sweeper := &sweep.Sweeper{
		DB:       database,
		Logger:   logger.Named("sweep"),
		Interval: cfg.SweepInterval,
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweeper.Start(sweepCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	captureServer.Shutdown(ctx)
	apiServer.Shutdown(ctx)
	dnsSrv.Shutdown(ctx)

	return nil
}

// applyFlagOverrides lets explicit flags win over file and environment
// values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("domain") {
		cfg.Domain = serverFlags.domain
	}
	if cmd.Flags().Changed("server-ip") {
		cfg.ServerIP = serverFlags.serverIP
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = serverFlags.dbPath
	}
	if cmd.Flags().Changed("geoip-db") {
		cfg.GeoDBPath = serverFlags.geoDBPath
	}
	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort = serverFlags.httpPort
	}
	if cmd.Flags().Changed("dns-port") {
		cfg.DNSPort = serverFlags.dnsPort
	}
	if cmd.Flags().Changed("api-port") {
		cfg.APIPort = serverFlags.apiPort
	}
}
