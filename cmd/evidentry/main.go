package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evidentry/evidentry/pkg/chain"
	"github.com/evidentry/evidentry/pkg/config"
	"github.com/evidentry/evidentry/pkg/contracts"
	"github.com/evidentry/evidentry/pkg/jobs"
	"github.com/evidentry/evidentry/pkg/ledger"
	"github.com/evidentry/evidentry/pkg/notify"
	"github.com/evidentry/evidentry/pkg/observability"
	"github.com/evidentry/evidentry/pkg/schema"
	"github.com/evidentry/evidentry/pkg/snapshot"
	"github.com/evidentry/evidentry/pkg/store"
	"github.com/evidentry/evidentry/pkg/store/redislock"
	"github.com/evidentry/evidentry/pkg/transition"
	"github.com/evidentry/evidentry/pkg/verify"
	"github.com/evidentry/evidentry/pkg/workflow"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "init":
		return runInitCmd(stdout, stderr)
	case "append":
		return runAppendCmd(args[2:], stdout, stderr)
	case "state":
		return runStateCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "snapshot":
		return runSnapshotCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sEvidentry%s\n", ColorBold+ColorCyan, ColorReset)
	fmt.Fprintf(w, "%sHash-chained event ledgers with replayable state.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  evidentry <command> [flags]")
	fmt.Fprintln(w, "")
	printCommand(w, "init", "Create database tables")
	printCommand(w, "append", "Append an event to a subject's stream")
	printCommand(w, "state", "Derive a subject's current state by replay")
	printCommand(w, "verify", "Verify hash chains (--subject or whole tenant)")
	printCommand(w, "snapshot", "Create or refresh replay snapshots")
	printCommand(w, "sweep", "Run scheduled snapshot and verification sweeps")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// app is the wired service stack.
type app struct {
	cfg         *config.Config
	log         *slog.Logger
	events      *store.EventStore
	subjects    *store.SubjectStore
	snapshots   *store.SnapshotStore
	ledger      *ledger.Ledger
	verify      *verify.Service
	projector   *snapshot.Projector
	snapshotter *snapshot.Snapshotter
	engine      *workflow.Engine
	close       func()
}

// buildApp wires the full stack from environment configuration, overlaid
// with the tenant's YAML profile when one exists. Workflow triggering is
// connected last because the engine's create_event handler re-enters the
// ledger.
func buildApp(ctx context.Context, tenantID string) (*app, error) {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if tenantID != "" && cfg.ProfilesDir != "" {
		profile, perr := config.LoadProfile(cfg.ProfilesDir, tenantID)
		switch {
		case perr == nil:
			cfg = cfg.ForTenant(profile)
			log.Info("tenant profile applied", "tenant_id", tenantID, "profile", profile.Name)
		case errors.Is(perr, fs.ErrNotExist):
			// No profile: the tenant runs on service defaults.
		default:
			return nil, perr
		}
	}

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	alg, err := chain.AlgorithmByName(cfg.HashAlgorithm)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	hasher := chain.NewHasher(alg)

	events := store.NewEventStore(db)
	subjects := store.NewSubjectStore(db)
	schemas := store.NewSchemaStore(db)
	rules := store.NewRuleStore(db)
	workflows := store.NewWorkflowStore(db)
	executions := store.NewExecutionStore(db)
	snapshots := store.NewSnapshotStore(db)
	tasks := store.NewTaskStore(db)
	recipients := store.NewRecipientStore(db)

	var redisClient *redis.Client
	var locks contracts.LockManager
	switch {
	case cfg.RedisURL != "":
		redisOpts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		redisClient = redis.NewClient(redisOpts)
		locks = redislock.New(redisClient)
	case cfg.DatabaseDriver == "postgres":
		locks = store.NewAdvisoryLockManager(db)
	default:
		locks = store.NewMemoryLockManager()
	}

	metrics := observability.NewMetrics(nil)

	led := ledger.New(events, subjects, hasher,
		ledger.WithSchemaValidator(schema.NewValidator(schemas, schema.WithRequireSchemas(cfg.RequireSchemas))),
		ledger.WithTransitionValidator(transition.NewValidator(rules, events)),
		ledger.WithMetrics(metrics),
		ledger.WithLogger(log),
	)

	renderer, err := notify.NewRenderer(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	engine, err := workflow.NewEngine(workflows, executions, locks,
		workflow.WithHandler(contracts.ActionCreateEvent, workflow.NewCreateEventHandler(led, nil)),
		workflow.WithHandler(contracts.ActionNotify, workflow.NewNotifyHandler(recipients, renderer, notify.NewLogSink(log))),
		workflow.WithHandler(contracts.ActionCreateTask, workflow.NewCreateTaskHandler(tasks, nil)),
		workflow.WithEngineMetrics(metrics),
		workflow.WithDefaultDailyQuota(cfg.WorkflowMaxPerDay),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	led.SetTriggers(engine)

	verifier := verify.NewVerifier(events, hasher,
		verify.WithMaxEvents(int64(cfg.VerifyMaxEvents)),
		verify.WithTimeBudget(cfg.VerifyTimeBudget),
		verify.WithMetrics(metrics),
	)
	projector := snapshot.NewProjector(events, subjects, snapshots)

	return &app{
		cfg:         cfg,
		log:         log,
		events:      events,
		subjects:    subjects,
		snapshots:   snapshots,
		ledger:      led,
		verify:      verify.NewService(verifier, verify.NewJobStore()),
		projector:   projector,
		snapshotter: snapshot.NewSnapshotter(projector, snapshots, subjects, snapshot.WithMinEvents(cfg.SnapshotMinEvents)),
		engine:      engine,
		close: func() {
			if redisClient != nil {
				_ = redisClient.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func runInitCmd(stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()
	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := store.Init(ctx, db); err != nil {
		fmt.Fprintf(stderr, "init database: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "database initialized")
	return 0
}

func runAppendCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("append", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		tenantID   string
		subjectID  string
		eventType  string
		version    int
		at         string
		payloadStr string
		jsonOut    bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&subjectID, "subject", "", "Subject ID (REQUIRED)")
	cmd.StringVar(&eventType, "type", "", "Event type (REQUIRED)")
	cmd.IntVar(&version, "schema-version", 1, "Payload schema version")
	cmd.StringVar(&at, "at", "", "Event time (RFC 3339, default now)")
	cmd.StringVar(&payloadStr, "payload", "{}", "Payload JSON")
	cmd.BoolVar(&jsonOut, "json", false, "Output the event as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || subjectID == "" || eventType == "" {
		fmt.Fprintln(stderr, "append requires --tenant, --subject and --type")
		return 2
	}

	eventTime := time.Now().UTC()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			fmt.Fprintf(stderr, "parse --at: %v\n", err)
			return 2
		}
		eventTime = t
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		fmt.Fprintf(stderr, "parse --payload: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	event, err := a.ledger.Append(ctx, tenantID, contracts.CreateEventCommand{
		SubjectID:     subjectID,
		EventType:     eventType,
		SchemaVersion: version,
		EventTime:     eventTime,
		Payload:       payload,
	}, true)
	if err != nil {
		fmt.Fprintf(stderr, "append: %v\n", err)
		return 1
	}
	if jsonOut {
		return printJSON(stdout, stderr, event)
	}
	fmt.Fprintf(stdout, "appended %s (%s) hash=%s\n", event.ID, event.EventType, event.Hash)
	return 0
}

func runStateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("state", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		tenantID   string
		subjectID  string
		asOf       string
		instanceID string
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&subjectID, "subject", "", "Subject ID (REQUIRED)")
	cmd.StringVar(&asOf, "as-of", "", "Derive state as of this instant (RFC 3339)")
	cmd.StringVar(&instanceID, "workflow-instance", "", "Restrict replay to one workflow instance")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || subjectID == "" {
		fmt.Fprintln(stderr, "state requires --tenant and --subject")
		return 2
	}

	opts := snapshot.StateOptions{}
	if asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			fmt.Fprintf(stderr, "parse --as-of: %v\n", err)
			return 2
		}
		opts.AsOf = &t
	}
	if instanceID != "" {
		opts.WorkflowInstanceID = &instanceID
	}

	ctx := context.Background()
	a, err := buildApp(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	result, err := a.projector.CurrentState(ctx, tenantID, subjectID, opts)
	if err != nil {
		fmt.Fprintf(stderr, "derive state: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, result)
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		tenantID  string
		subjectID string
		async     bool
		jsonOut   bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&subjectID, "subject", "", "Verify one subject instead of the whole tenant")
	cmd.BoolVar(&async, "async", false, "Run tenant-wide verification as a background job")
	cmd.BoolVar(&jsonOut, "json", false, "Output the full report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		fmt.Fprintln(stderr, "verify requires --tenant")
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	var report *verify.ChainReport
	switch {
	case subjectID != "":
		report, err = a.verify.VerifySubject(ctx, tenantID, subjectID)
	case async:
		jobID := a.verify.StartJob(tenantID)
		a.verify.Wait()
		job, jerr := a.verify.JobStatus(jobID)
		if jerr != nil {
			fmt.Fprintf(stderr, "job status: %v\n", jerr)
			return 1
		}
		if job.Status == verify.JobFailed {
			fmt.Fprintf(stderr, "verify job failed: %s\n", job.Error)
			return 1
		}
		report = job.Report
	default:
		report, err = a.verify.VerifyTenant(ctx, tenantID)
	}
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}

	if jsonOut {
		return printJSON(stdout, stderr, report)
	}
	if report.IsChainValid {
		fmt.Fprintf(stdout, "chain valid: %d events checked\n", report.TotalEvents)
		return 0
	}
	fmt.Fprintf(stdout, "chain INVALID: %d of %d events failed\n", report.InvalidEvents, report.TotalEvents)
	for _, ev := range report.Events {
		if !ev.IsValid {
			fmt.Fprintf(stdout, "  %s seq=%d %s: %s\n", ev.EventID, ev.Sequence, ev.ErrorType, ev.ErrorMessage)
		}
	}
	return 1
}

func runSnapshotCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		tenantID  string
		subjectID string
		limit     int
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&subjectID, "subject", "", "Snapshot a single subject")
	cmd.IntVar(&limit, "limit", 0, "Max subjects per sweep (default service config)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		fmt.Fprintln(stderr, "snapshot requires --tenant")
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	if subjectID != "" {
		snap, err := a.snapshotter.CreateSnapshot(ctx, tenantID, subjectID)
		if err != nil {
			fmt.Fprintf(stderr, "snapshot: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "snapshot %s at event %s (%d events)\n",
			snap.ID, snap.SnapshotAtEventID, snap.EventCountAtSnapshot)
		return 0
	}

	if limit == 0 {
		limit = a.cfg.SnapshotJobLimit
	}
	result, err := a.snapshotter.RunJob(ctx, tenantID, limit)
	if err != nil {
		fmt.Fprintf(stderr, "snapshot job: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, result)
}

func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		tenantID     string
		snapshotSpec string
		verifySpec   string
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&snapshotSpec, "snapshot-cron", "@hourly", "Cron schedule for snapshot sweeps")
	cmd.StringVar(&verifySpec, "verify-cron", "", "Cron schedule for verification sweeps (default from config or tenant profile)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		fmt.Fprintln(stderr, "sweep requires --tenant")
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, tenantID)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	if verifySpec == "" {
		verifySpec = a.cfg.VerifySweepSpec
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = a.cfg.TelemetryEnabled
	obsCfg.OTLPEndpoint = a.cfg.OTLPEndpoint
	telemetry, err := observability.NewProvider(ctx, obsCfg, a.log)
	if err != nil {
		fmt.Fprintf(stderr, "telemetry: %v\n", err)
		return 1
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	scheduler := jobs.NewScheduler(a.snapshotter, a.verify, a.log, jobs.WithTelemetry(telemetry))
	err = scheduler.Register(jobs.TenantSchedule{
		TenantID:      tenantID,
		SnapshotSpec:  snapshotSpec,
		VerifySpec:    verifySpec,
		SnapshotLimit: a.cfg.SnapshotJobLimit,
	})
	if err != nil {
		fmt.Fprintf(stderr, "register schedule: %v\n", err)
		return 2
	}

	go func() {
		a.log.Info("metrics listening", "addr", a.cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		if err := http.ListenAndServe(a.cfg.MetricsAddr, mux); err != nil {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()

	scheduler.Start()
	fmt.Fprintf(stdout, "sweeping tenant %s (snapshot %s, verify %s)\n", tenantID, snapshotSpec, verifySpec)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	scheduler.Stop()
	return 0
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
