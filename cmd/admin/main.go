package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/infrastructure/crypto"
	"ledgerlink/internal/infrastructure/postgres"
	"ledgerlink/internal/infrastructure/quickbooks"
	"ledgerlink/internal/infrastructure/xero"
	"ledgerlink/internal/shared/config"
)

const usage = `LedgerLink Admin CLI - Management commands for the LedgerLink API

Usage:
  admin <command> [options]

Commands:
  list        List active provider connections
  validate    Check that connections still work against their provider
  refresh     Force a token refresh for one connection

Examples:
  # List all active connections
  admin list

  # Validate every active connection
  admin validate --all

  # Validate one client's QuickBooks connection
  admin validate --client-id=acme --provider=quickbooks

  # Force a token refresh
  admin refresh --client-id=acme --provider=xero
`

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("%s\n", usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "list":
		runList(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "refresh":
		runRefresh(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Printf("%s\n", usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Printf("%s\n", usage)
		os.Exit(1)
	}
}

// buildService loads config and wires the connection service the same
// way the API does, minus the HTTP layer.
func buildService() (*connection.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	registry := accounting.NewRegistry(
		quickbooks.New(quickbooks.Config{
			ClientID:     cfg.QuickBooks.ClientID,
			ClientSecret: cfg.QuickBooks.ClientSecret,
			Environment:  cfg.QuickBooks.Environment,
			PageSize:     cfg.QuickBooks.PageSize,
		}),
		xero.New(xero.Config{
			ClientID:     cfg.Xero.ClientID,
			ClientSecret: cfg.Xero.ClientSecret,
		}),
	)

	repo := postgres.NewConnectionRepository(db, encryptor)
	service := connection.NewService(registry, repo, zap.NewNop())
	service.SetRefreshMargin(cfg.Connection.RefreshMargin)

	return service, func() { db.Close() }, nil
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	timeoutStr := fs.String("timeout", "1m", "Timeout for the operation (e.g., 30s, 5m)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	service, closeFn, err := buildService()
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conns, err := service.ListActive(ctx)
	if err != nil {
		log.Fatalf("Failed to list connections: %v", err)
	}

	if len(conns) == 0 {
		fmt.Println("No active connections")
		return
	}

	for _, c := range conns {
		lastSync := "never"
		if c.LastSyncAt != nil {
			lastSync = c.LastSyncAt.Format(time.RFC3339)
		}
		fmt.Printf("%-20s %-12s %-30s expires=%s last_sync=%s\n",
			c.ClientID, c.Provider, c.CompanyName,
			c.ExpiresAt.Format(time.RFC3339), lastSync)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	clientID := fs.String("client-id", "", "Client whose connection to validate")
	providerStr := fs.String("provider", "", "Provider to validate (quickbooks, xero)")
	all := fs.Bool("all", false, "Validate every active connection")
	timeoutStr := fs.String("timeout", "5m", "Timeout for the operation (e.g., 30s, 5m)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*all && (*clientID == "" || *providerStr == "") {
		fmt.Println("Error: must specify --all, or both --client-id and --provider")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	service, closeFn, err := buildService()
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type target struct {
		clientID string
		provider accounting.ProviderID
	}

	var targets []target
	if *all {
		conns, err := service.ListActive(ctx)
		if err != nil {
			log.Fatalf("Failed to list connections: %v", err)
		}
		for _, c := range conns {
			targets = append(targets, target{c.ClientID, c.Provider})
		}
	} else {
		provider, err := accounting.ParseProviderID(*providerStr)
		if err != nil {
			log.Fatal(err)
		}
		targets = append(targets, target{*clientID, provider})
	}

	if len(targets) == 0 {
		fmt.Println("No connections to validate")
		return
	}

	failed := 0
	for _, t := range targets {
		valid, err := service.Validate(ctx, t.clientID, t.provider)
		switch {
		case err != nil:
			fmt.Printf("%-20s %-12s ERROR: %v\n", t.clientID, t.provider, err)
			failed++
		case !valid:
			fmt.Printf("%-20s %-12s INVALID (re-authentication required)\n", t.clientID, t.provider)
			failed++
		default:
			fmt.Printf("%-20s %-12s OK\n", t.clientID, t.provider)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func runRefresh(args []string) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	clientID := fs.String("client-id", "", "Client whose connection to refresh")
	providerStr := fs.String("provider", "", "Provider to refresh (quickbooks, xero)")
	timeoutStr := fs.String("timeout", "1m", "Timeout for the operation (e.g., 30s, 5m)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *clientID == "" || *providerStr == "" {
		fmt.Println("Error: must specify --client-id and --provider")
		fs.Usage()
		os.Exit(1)
	}

	provider, err := accounting.ParseProviderID(*providerStr)
	if err != nil {
		log.Fatal(err)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	service, closeFn, err := buildService()
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := service.EnsureFresh(ctx, *clientID, provider)
	if err != nil {
		log.Fatalf("Refresh failed: %v", err)
	}

	fmt.Printf("Token for %s/%s valid until %s\n",
		conn.ClientID, conn.Provider, conn.ExpiresAt.Format(time.RFC3339))
}
