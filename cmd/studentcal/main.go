package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"studentcal/internal/capture"
	"studentcal/internal/config"
	"studentcal/internal/ics"
	appLog "studentcal/internal/log"
	"studentcal/internal/session"
	"studentcal/internal/store"
	"studentcal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath  string
	listen      string
	student     string
	seed        string
	once        bool
	print       bool
	out         string
	granularity string
	debug       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("studentcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"cache_ttl", conf.Cache.TTL,
		"reminder_lead", conf.Reminders.Lead,
		"reminder_check", conf.Reminders.Check,
		"refresh", conf.Refresh,
		"session_idle_ttl", conf.Sessions.IdleTTL,
		"max_sessions", conf.Sessions.Max,
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"print", flags.print,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("studentcal failed", err)
		os.Exit(1)
	}
	appLog.Info("studentcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()
	horizon := time.Duration(conf.RecurrenceHorizonDays) * 24 * time.Hour

	if err := os.MkdirAll(filepath.Dir(conf.Database), 0o700); err != nil {
		return err
	}
	db, err := store.Open(conf.Database, store.WithLocation(loc), store.WithHorizon(horizon))
	if err != nil {
		return err
	}
	defer db.Close()

	if flags.seed != "" {
		fixture, err := store.LoadFixture(flags.seed)
		if err != nil {
			return fmt.Errorf("load seed %s: %w", flags.seed, err)
		}
		if err := db.Import(ctx, fixture); err != nil {
			return fmt.Errorf("import seed %s: %w", flags.seed, err)
		}
		appLog.Info("seed imported", "path", flags.seed,
			"classes", len(fixture.Classes),
			"assignments", len(fixture.Assignments),
			"exams", len(fixture.Exams),
			"events", len(fixture.Events),
		)
	}

	feeds := make([]ics.Feed, 0, len(conf.ICS))
	for _, f := range conf.ICS {
		feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL})
	}
	source := store.WithFeeds(db, ics.NewFetcher(conf.ICSCacheDir, nil), feeds, loc, horizon)
	c := cron.New(cron.WithLocation(loc))
	mgr, err := session.NewManager(source, c, session.ManagerConfig{
		Session:     session.Config{Location: loc, Lead: conf.Reminders.Lead},
		CacheTTL:    conf.Cache.TTL,
		CheckSpec:   conf.Reminders.Check,
		RefreshSpec: conf.RefreshSpec(),
		Preferences: db,
		IdleTTL:     conf.Sessions.IdleTTL,
		MaxSessions: conf.Sessions.Max,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	if flags.once {
		return runOnce(ctx, mgr, flags.student)
	}

	srv := web.NewServer(conf, mgr)

	if flags.print {
		return runPrint(ctx, srv, conf, flags)
	}

	if flags.student != "" {
		if _, err := mgr.Get(ctx, flags.student); err != nil {
			appLog.Error("session warm-up failed", err, "student", flags.student)
		}
	}

	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()
	return srv.ListenAndServe(ctx)
}

// runOnce loads one student, reports conflicts and due reminders, and
// returns.
func runOnce(ctx context.Context, mgr *session.Manager, studentID string) error {
	if studentID == "" {
		return errors.New("-once requires -student")
	}
	sess, err := mgr.Get(ctx, studentID)
	if err != nil {
		return err
	}

	st := sess.Status()
	fmt.Printf("student %s: %d events", studentID, st.Events)
	if len(st.Failed) > 0 {
		fmt.Printf(" (unavailable: %v)", st.Failed)
	}
	fmt.Println()

	for _, c := range sess.Conflicts() {
		fmt.Printf("conflict %s [%s] %s / %s at %s\n",
			c.ID, c.Severity, c.A.Title, c.B.Title,
			c.OverlapStart.In(sess.Location()).Format("2006-01-02 15:04"))
	}
	for _, n := range sess.Inbox().List(0) {
		fmt.Printf("reminder: %s\n", n.Message)
	}
	return nil
}

// runPrint serves the print page long enough for a headless capture.
func runPrint(ctx context.Context, srv *web.Server, conf *config.Config, flags flagConfig) error {
	if flags.student == "" {
		return errors.New("-print requires -student")
	}

	srvCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(srvCtx) }()

	base := "http://" + conf.Listen
	if err := waitHealthy(ctx, base, 5*time.Second); err != nil {
		stop()
		return err
	}
	target, err := capture.PrintURL(base, flags.student, flags.granularity, time.Time{})
	if err != nil {
		stop()
		return err
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" {
		u, err := url.Parse(target)
		if err != nil {
			stop()
			return err
		}
		u.User = url.UserPassword(ba.Username, ba.Password)
		target = u.String()
	}
	capErr := capture.PrintPNG(ctx, capture.Options{URL: target, OutputPath: flags.out})

	stop()
	if err := <-errCh; err != nil {
		return errors.Join(capErr, err)
	}
	return capErr
}

// waitHealthy polls /health until the server answers or timeout passes.
func waitHealthy(ctx context.Context, base string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s not ready after %s", base, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./studentcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.student, "student", "", "Student ID for -once / -print, or a session to warm up")
	flag.StringVar(&cfg.seed, "seed", "", "YAML fixture to import into the database before starting")
	flag.BoolVar(&cfg.once, "once", false, "Load one student, print conflicts and due reminders, then exit")
	flag.BoolVar(&cfg.print, "print", false, "Capture the student's print view to -out and exit")
	flag.StringVar(&cfg.out, "out", "./schedule.png", "Output PNG for -print")
	flag.StringVar(&cfg.granularity, "granularity", "week", "Grid granularity for -print (day, week, month)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
