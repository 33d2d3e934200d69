package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ppiankov/roomguard/internal/alert"
	"github.com/ppiankov/roomguard/internal/audit"
	"github.com/ppiankov/roomguard/internal/breakglass"
	"github.com/ppiankov/roomguard/internal/classify"
	"github.com/ppiankov/roomguard/internal/config"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/dialogue"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/ingest"
	"github.com/ppiankov/roomguard/internal/metrics"
	"github.com/ppiankov/roomguard/internal/profilestore"
	"github.com/ppiankov/roomguard/internal/server"
	"github.com/ppiankov/roomguard/internal/speech"
	"github.com/ppiankov/roomguard/internal/trust"
)

var (
	serveListen   string
	serveInactive bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (overrides server.listen)")
	serveCmd.Flags().BoolVar(&serveInactive, "inactive", false, "Start with the guard deactivated")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room guard",
	Long: "Runs the guard service: trust decisions, confrontation sessions, audit log,\n" +
		"alerts and the gRPC API. Access policy and alert changes in the config\n" +
		"file are hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveInactive {
		cfg.Guard.Active = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := metrics.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Shutdown(sctx); err != nil {
			logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}()

	store, err := profilestore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer store.Close()

	engine, err := trust.NewEngine(store, cfg.Trust)
	if err != nil {
		return err
	}
	machine, err := escalation.NewMachine(cfg.Escalation)
	if err != nil {
		return err
	}

	var generator conversation.Generator
	generator, err = dialogue.New(ctx, cfg.Dialogue)
	if err != nil {
		logger.Warn("dialogue generator unavailable, using fixed phrases", zap.Error(err))
		generator = dialogue.Fallback{}
	}
	var speaker conversation.Speaker
	speaker, err = speech.New(ctx, cfg.Speech, logger)
	if err != nil {
		logger.Warn("speech output unavailable, logging lines instead", zap.Error(err))
		speaker = speech.NewLog(logger)
	}

	feed := speech.NewFeed(cfg.Listen.Capacity)
	orch, err := conversation.New(cfg.Conversation, conversation.Deps{
		Machine:    machine,
		Generator:  generator,
		Speaker:    speaker,
		Listener:   feed,
		Classifier: classify.NewKeywordClassifier(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var auditLog *audit.Log
	if path := cfg.AuditPath(); path != "" {
		auditLog, err = audit.Open(path)
		if err != nil {
			orch.Close()
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	var passes *breakglass.Store
	if dir := cfg.PassDir(); dir != "" {
		passes, err = breakglass.NewStore(dir)
		if err != nil {
			logger.Warn("break-glass passes disabled", zap.Error(err))
			passes = nil
		}
	}

	dispatcher := alert.NewDispatcher(cfg.Alerts, logger)
	g, err := guard.New(cfg.Guard, guard.Deps{
		Engine:       engine,
		Orchestrator: orch,
		Feed:         feed,
		Policy:       cfg.Access,
		Audit:        auditLog,
		Alerts:       dispatcher,
		Passes:       passes,
		Metrics:      rec,
		ConfigHash:   hash,
		Logger:       logger,
	})
	if err != nil {
		orch.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := g.Run(context.Background()); err != nil {
			logger.Warn("event loop stopped", zap.Error(err))
		}
	}()

	var dispatchers []*alert.Dispatcher
	dispatchers = append(dispatchers, dispatcher)
	var dmu sync.Mutex

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	reloader, err := server.NewReloader([]string{path}, func() error {
		next, nextHash, err := config.LoadWithHash(path)
		if err != nil {
			return err
		}
		if err := engine.SetConfig(next.Trust); err != nil {
			return err
		}
		d := alert.NewDispatcher(next.Alerts, logger)
		dmu.Lock()
		dispatchers = append(dispatchers, d)
		dmu.Unlock()
		return g.Reload(next.Access, d, nextHash)
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reloader.Run(ctx)
		}()
	}

	if cfg.Inbox.Enabled {
		inbox := cfg.Inbox
		inbox.Dir = cfg.InboxDir()
		proc, err := ingest.NewProcessor(inbox.Dir, g, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: inbox disabled: %v\n", err)
		} else {
			startInbox(ctx, &wg, inbox, proc)
			fmt.Fprintf(os.Stderr, "Inbox: %s\n", inbox.Dir)
		}
	}

	if cfg.Server.DecayInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDecaySweeps(ctx, engine, cfg.Server.DecayInterval)
		}()
	}

	srv := server.New(g, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(cfg.Server.Listen) }()

	fmt.Fprintf(os.Stderr, "roomguard listening on %s\n", cfg.Server.Listen)
	fmt.Fprintf(os.Stderr, "Guard: %s, store: %s\n", modeLabel(g.Active()), backendLabel(cfg.Store.Backend))
	if auditLog != nil {
		fmt.Fprintf(os.Stderr, "Audit: %s\n", cfg.AuditPath())
	}
	fmt.Fprintln(os.Stderr)

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nShutting down roomguard...")
	case err = <-serveErr:
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		stop()
	}

	srv.GracefulStop()
	g.Close()
	wg.Wait()
	dmu.Lock()
	for _, d := range dispatchers {
		if d != nil {
			d.Wait()
		}
	}
	dmu.Unlock()
	return err
}

func startInbox(ctx context.Context, wg *sync.WaitGroup, cfg ingest.Config, proc *ingest.Processor) {
	watcher := ingest.NewWatcher(cfg, func(p string) {
		if err := proc.Process(ctx, p); err != nil {
			logger.Debug("inbox file not applied", zap.String("file", p), zap.Error(err))
		}
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("inbox watcher stopped", zap.Error(err))
		}
	}()
}

func runDecaySweeps(ctx context.Context, engine *trust.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := engine.DecaySweep(ctx, now)
			if err != nil && ctx.Err() == nil {
				logger.Warn("decay sweep failed", zap.Error(err))
				continue
			}
			logger.Debug("decay sweep",
				zap.Int("scanned", report.Scanned),
				zap.Int("decayed", report.Decayed),
				zap.Int("reset", report.Reset))
		}
	}
}

func modeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func backendLabel(b string) string {
	if b == "" {
		return "file"
	}
	return b
}
