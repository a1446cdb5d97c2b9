package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/emberhollow/storywalk/pkg/accountdb"
	"github.com/emberhollow/storywalk/pkg/server"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("STORYWALK_CONF", ""), "Path to server config file (env: STORYWALK_CONF)")
	accountPath := flag.String("accounts", envDefault("STORYWALK_ACCOUNTS", ""), "Path to SQLite account database (env: STORYWALK_ACCOUNTS)")
	storyPath := flag.String("stories", envDefault("STORYWALK_STORIES", ""), "Path to bbolt story database (env: STORYWALK_STORIES)")
	legacyFile := flag.String("legacy", envDefault("STORYWALK_LEGACY", ""), "Path to legacy data.json story file to import and watch (env: STORYWALK_LEGACY)")
	port := flag.Int("port", 0, "TCP port to listen on, overrides config (env: STORYWALK_PORT)")
	webPort := flag.Int("web-port", 0, "HTTP port for the web API, overrides config (env: STORYWALK_WEB_PORT)")
	tlsCert := flag.String("tls-cert", envDefault("STORYWALK_TLS_CERT", ""), "Path to TLS certificate file (env: STORYWALK_TLS_CERT)")
	tlsKey := flag.String("tls-key", envDefault("STORYWALK_TLS_KEY", ""), "Path to TLS private key file (env: STORYWALK_TLS_KEY)")
	flag.Parse()

	// Handle STORYWALK_PORT env if -port flag not set
	if *port == 0 {
		if envPort := os.Getenv("STORYWALK_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*port = p
			}
		}
	}
	if *webPort == 0 {
		if envPort := os.Getenv("STORYWALK_WEB_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*webPort = p
			}
		}
	}

	var cfg server.Conf
	if *confFile != "" {
		var err error
		cfg, err = server.LoadConf(*confFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	} else {
		cfg = server.DefaultConf()
	}

	// Command-line flags override config file values
	if *port != 0 {
		cfg.Port = *port
	}
	if *webPort != 0 {
		cfg.WebPort = *webPort
	}
	if *accountPath != "" {
		cfg.AccountDB = *accountPath
	}
	if *storyPath != "" {
		cfg.StoryDB = *storyPath
	}
	if *legacyFile != "" {
		cfg.LegacyStoryFile = *legacyFile
	}
	if *tlsCert != "" {
		cfg.TLSCert = *tlsCert
	}
	if *tlsKey != "" {
		cfg.TLSKey = *tlsKey
	}
	if v := os.Getenv("STORYWALK_TLS"); v != "" {
		cfg.TLS = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("STORYWALK_WEB"); v != "" {
		cfg.WebEnabled = strings.EqualFold(v, "true")
	}

	if cfg.AccountDB == "" || cfg.StoryDB == "" {
		fmt.Fprintln(os.Stderr, "Usage: storywalk -accounts <file.db> -stories <file.db> [-conf <config.yaml>] [-port 65432]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
		fmt.Fprintln(os.Stderr, "  STORYWALK_CONF      Path to server config file (.yaml)")
		fmt.Fprintln(os.Stderr, "  STORYWALK_ACCOUNTS  Path to SQLite account database")
		fmt.Fprintln(os.Stderr, "  STORYWALK_STORIES   Path to bbolt story database")
		fmt.Fprintln(os.Stderr, "  STORYWALK_LEGACY    Path to legacy data.json to import and watch")
		fmt.Fprintln(os.Stderr, "  STORYWALK_PORT      TCP port to listen on")
		fmt.Fprintln(os.Stderr, "  STORYWALK_TLS       Set to 'true' to enable the TLS listener")
		fmt.Fprintln(os.Stderr, "  STORYWALK_TLS_CERT  Path to TLS certificate file")
		fmt.Fprintln(os.Stderr, "  STORYWALK_TLS_KEY   Path to TLS private key file")
		fmt.Fprintln(os.Stderr, "  STORYWALK_WEB       Set to 'true' to enable the web API")
		fmt.Fprintln(os.Stderr, "  STORYWALK_WEB_PORT  HTTP port for the web API")
		os.Exit(1)
	}

	accounts, err := accountdb.Open(cfg.AccountDB)
	if err != nil {
		log.Fatalf("Error opening account database: %v", err)
	}
	defer accounts.Close()
	if n, err := accounts.Count(); err == nil {
		log.Printf("Account database %s: %d accounts", cfg.AccountDB, n)
	}

	stories, err := storydb.Open(cfg.StoryDB)
	if err != nil {
		log.Fatalf("Error opening story database: %v", err)
	}
	defer stories.Close()
	if n, err := stories.Count(); err == nil {
		log.Printf("Story database %s: %d stories", cfg.StoryDB, n)
	}

	srv, err := server.NewServer(cfg, accounts, stories)
	if err != nil {
		log.Fatalf("Error creating server: %v", err)
	}

	log.Printf("Starting %s on port %d...", cfg.ServerName, cfg.Port)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)
		srv.Stop()
	}()

	srv.Wait()
}
