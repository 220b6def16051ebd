package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fixwerk/shopshift/internal/adapter/postgres"
	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/domain/migration"
	"github.com/fixwerk/shopshift/internal/domain/shop"
)

// runAdmin dispatches admin subcommands (create-shop, list-shops, status, reports).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-shop":
		return runAdminCreateShop(args[1:])
	case "list-shops":
		return runAdminListShops(args[1:])
	case "status":
		return runAdminStatus(args[1:])
	case "reports":
		return runAdminReports(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: shopshift admin <command> [options]

Commands:
  create-shop   Register a new shop on the legacy shared store
  list-shops    List all registered shops
  status        Show per-shop migration phases
  reports       Show recent validation reports for a shop
  help          Show this help message

Examples:
  shopshift admin create-shop --name "North Bay Repair" --subdomain northbay
  shopshift admin list-shops
  shopshift admin status
  shopshift admin reports --shop 7f3c... --limit 5
`)
}

// loadAdminDeps opens the control store the same way the server does.
// Admin commands only read and write control-plane state; they never
// touch shop data stores.
func loadAdminDeps() (*postgres.StateStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewControlPool(ctx, cfg.ControlDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to control store: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}
	return postgres.NewStateStore(pool), cleanup, nil
}

func runAdminCreateShop(args []string) error {
	fs := flag.NewFlagSet("create-shop", flag.ContinueOnError)
	name := fs.String("name", "", "shop display name (required)")
	subdomain := fs.String("subdomain", "", "shop subdomain, a DNS label (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *subdomain == "" {
		return fmt.Errorf("--subdomain is required")
	}

	state, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := state.CreateShop(context.Background(), shop.CreateRequest{
		Name:      *name,
		Subdomain: *subdomain,
	})
	if err != nil {
		return fmt.Errorf("create shop: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Shop created: %s (id=%s, subdomain=%s)\n", s.Name, s.ID, s.Subdomain)
	return nil
}

func runAdminListShops(args []string) error {
	fs := flag.NewFlagSet("list-shops", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	state, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	shops, err := state.ListShops(context.Background())
	if err != nil {
		return fmt.Errorf("list shops: %w", err)
	}

	if len(shops) == 0 {
		fmt.Println("No shops registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSUBDOMAIN\tENABLED")
	for i := range shops {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\n",
			shops[i].ID, shops[i].Name, shops[i].Subdomain, shops[i].Enabled)
	}
	return w.Flush()
}

func runAdminStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	state, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	recs, err := state.ListMigrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	if len(recs) == 0 {
		fmt.Println("No migrations started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SHOP\tPHASE\tREADS\tPAUSED\tCLEAN\tPENDING\tLAST_ERROR")
	for i := range recs {
		rec := &recs[i]
		pending, err := state.CountDivergence(ctx, rec.ShopID)
		if err != nil {
			return fmt.Errorf("count divergence for %s: %w", rec.ShopID, err)
		}
		phase := string(rec.Phase)
		if rec.Phase == migration.PhaseFailed && rec.FailedFrom != "" {
			phase = fmt.Sprintf("%s (from %s)", rec.Phase, rec.FailedFrom)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			rec.ShopID, phase, rec.ReadPath, rec.Paused, rec.CleanValidations, pending, rec.LastError)
	}
	return w.Flush()
}

func runAdminReports(args []string) error {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	shopID := fs.String("shop", "", "shop ID (required)")
	limit := fs.Int("limit", 5, "number of reports to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *shopID == "" {
		return fmt.Errorf("--shop is required")
	}

	state, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	reps, err := state.ListReports(context.Background(), *shopID, *limit)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	if len(reps) == 0 {
		fmt.Println("No validation reports recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GENERATED\tCLEAN\tMISMATCHED_TABLES")
	for i := range reps {
		rep := &reps[i]
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d\n",
			rep.GeneratedAt.Format("2006-01-02 15:04:05"), rep.Clean(), rep.MismatchCount())
	}
	return w.Flush()
}
