package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"github.com/mmdatafocus/itembills_sync/remote"
	"github.com/mmdatafocus/itembills_sync/utils"
)

const usage = `usage: billsync <command> [flags]

commands:
  query        list every bill in the accounting system
  sync         add spreadsheet bills missing from the accounting system (-file)
  diff         compare spreadsheet and accounting system bills (-file, -add-missing)
  delete-all   delete every bill in the accounting system (-confirm=DELETE)
  add-vendors  create vendors (-names "Acme,Globex" or trailing arguments)
  token        mint an operator token for the sync service
`

// newComparator is swapped out in tests.
var newComparator = func(ctx context.Context) (*reconcile.Comparator, error) {
	if remote.GatewayFromEnv() == remote.GatewayBooks {
		if _, err := config.ConnectDatabase(); err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
	}
	connector, err := remote.NewConnectorFromEnv()
	if err != nil {
		return nil, err
	}

	opts := []reconcile.Option{
		reconcile.WithAppName(config.EnvString("BILLSYNC_APP_NAME", reconcile.DefaultAppName)),
		reconcile.WithAudit(reconcile.NewLogrusAudit(config.GetLogger())),
		reconcile.WithLogger(config.GetLogger()),
	}
	if config.EnvString("REDIS_ADDRESS", "") != "" {
		if err := config.ConnectRedis(ctx); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, reconcile.WithLocker(utils.NewRunLock(config.GetRedisLock())))
	}
	return reconcile.NewComparator(connector, opts...), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "spreadsheet to read: local path or gs://bucket/object")
	report := fs.String("report", "", "also write the classification table to this .xlsx path")
	addMissing := fs.Bool("add-missing", false, "diff: create bills missing from the accounting system")
	confirm := fs.String("confirm", "", "delete-all: type DELETE to proceed")
	names := fs.String("names", "", "add-vendors: comma separated vendor names")
	subject := fs.String("subject", "", "token: operator name")
	role := fs.String("role", utils.RoleOperator, "token: operator or viewer")
	hours := fs.Int("hours", 12, "token: lifespan in hours")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	switch cmd {
	case "query":
		return withComparator(ctx, stderr, func(c *reconcile.Comparator) error {
			return queryBills(ctx, c, stdout)
		})
	case "sync":
		if strings.TrimSpace(*file) == "" {
			fmt.Fprintln(stderr, "--file is required")
			return 2
		}
		return withComparator(ctx, stderr, func(c *reconcile.Comparator) error {
			return syncBills(ctx, c, *file, *report, stdout)
		})
	case "diff":
		if strings.TrimSpace(*file) == "" {
			fmt.Fprintln(stderr, "--file is required")
			return 2
		}
		return withComparator(ctx, stderr, func(c *reconcile.Comparator) error {
			return diffBills(ctx, c, *file, *report, *addMissing, stdout)
		})
	case "delete-all":
		if strings.TrimSpace(*confirm) != "DELETE" {
			fmt.Fprintln(stderr, "set --confirm=DELETE to delete every bill")
			return 2
		}
		return withComparator(ctx, stderr, func(c *reconcile.Comparator) error {
			return deleteAll(ctx, c, stdout)
		})
	case "add-vendors":
		vendorNames := append(config.SplitList(*names), fs.Args()...)
		if len(vendorNames) == 0 {
			fmt.Fprintln(stderr, "no vendor names given")
			return 2
		}
		return withComparator(ctx, stderr, func(c *reconcile.Comparator) error {
			return addVendors(ctx, c, vendorNames, stdout)
		})
	case "token":
		if strings.TrimSpace(*subject) == "" {
			fmt.Fprintln(stderr, "--subject is required")
			return 2
		}
		tok, err := utils.JwtGenerate(utils.JwtSecret(), *subject, *role, time.Duration(*hours)*time.Hour)
		if err != nil {
			fmt.Fprintf(stderr, "token: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, tok)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func withComparator(ctx context.Context, stderr io.Writer, fn func(*reconcile.Comparator) error) int {
	c, err := newComparator(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "setup failed: %v\n", err)
		return 1
	}
	if err := fn(c); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return 0
}

func readBills(ctx context.Context, source string) ([]*models.ItemBill, error) {
	rc, err := utils.OpenSource(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return reconcile.ReadBillsFromReader(rc, source)
}

func queryBills(ctx context.Context, c *reconcile.Comparator, w io.Writer) error {
	bills, err := c.QueryAllBills(ctx)
	if err != nil {
		return err
	}
	for _, b := range bills {
		fmt.Fprintf(w, "%s  vendor=%s date=%s invoice=%s external_id=%d\n",
			b.TxnId, b.VendorName, b.BillDate.Format("2006-01-02"), b.InvoiceNum, b.ExternalId)
		for _, l := range b.Lines {
			fmt.Fprintf(w, "    %s qty=%d price=%s\n", l.PartName, l.Quantity, l.UnitPrice.StringFixed(2))
		}
	}
	fmt.Fprintf(w, "%d bills\n", len(bills))
	return nil
}

func syncBills(ctx context.Context, c *reconcile.Comparator, file, report string, w io.Writer) error {
	bills, err := readBills(ctx, file)
	if err != nil {
		return err
	}
	results, runErr := c.CompareItemBills(ctx, bills)
	if runErr != nil && len(results) == 0 {
		return runErr
	}
	if err := reconcile.WriteSyncReport(w, results); err != nil {
		return err
	}
	if report != "" {
		if err := writeFile(report, func(f io.Writer) error { return reconcile.ExportSyncReportXlsx(f, results) }); err != nil {
			return err
		}
	}
	return runErr
}

func diffBills(ctx context.Context, c *reconcile.Comparator, file, report string, addMissing bool, w io.Writer) error {
	bills, err := readBills(ctx, file)
	if err != nil {
		return err
	}
	results, err := c.CompareWithRemote(ctx, bills)
	if err != nil {
		return err
	}
	if err := reconcile.WriteDiffReport(w, results); err != nil {
		return err
	}
	if addMissing {
		outcomes := c.AddMissingBills(ctx, results)
		added := 0
		for _, o := range outcomes {
			if o.Succeeded() {
				added++
			}
		}
		fmt.Fprintf(w, "added %d of %d missing bills\n", added, reconcile.SummarizeDiff(results).Count(models.DiffStatusMissingInQB))
	}
	if report == "" {
		return nil
	}
	return writeFile(report, func(f io.Writer) error { return reconcile.ExportDiffReportXlsx(f, results) })
}

func deleteAll(ctx context.Context, c *reconcile.Comparator, w io.Writer) error {
	summary, err := c.DeleteAllBills(ctx)
	if err != nil {
		return err
	}
	for txn, msg := range summary.Failures {
		fmt.Fprintf(w, "failed %s: %s\n", txn, msg)
	}
	fmt.Fprintf(w, "deleted %d of %d bills\n", summary.Deleted, summary.Requested)
	return nil
}

func addVendors(ctx context.Context, c *reconcile.Comparator, names []string, w io.Writer) error {
	submitted, outcomes, err := c.AddVendors(ctx, names)
	if err != nil {
		return err
	}
	for i, name := range submitted {
		o := outcomes[i]
		if o.Succeeded() {
			fmt.Fprintf(w, "added %s (%s)\n", name, o.TxnId)
			continue
		}
		fmt.Fprintf(w, "failed %s: %d %s\n", name, o.StatusCode, o.StatusMessage)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
