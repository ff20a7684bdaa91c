// mailmand is the mailing-list engine daemon: it accepts posts over LMTP,
// runs them through the pipeline, and drives the external transport and
// archiver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trevor/mailman3/archiver"
	"github.com/trevor/mailman3/config"
	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/db"
	"github.com/trevor/mailman3/delivery"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/membership"
	"github.com/trevor/mailman3/notify"
	"github.com/trevor/mailman3/pipeline"
	"github.com/trevor/mailman3/queue"
	"github.com/trevor/mailman3/server/httpapi"
	"github.com/trevor/mailman3/server/lmtp"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailmand version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailmand: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailmand: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg); err != nil {
		logger.Error("mailmand exiting with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// List registry
	var store list.Store
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		store = database.Store()
	} else {
		logger.Warn("Database disabled, using in-memory list registry")
		store = list.NewMemStore()
	}
	if err := bootstrapLists(ctx, store, cfg.Lists); err != nil {
		return err
	}

	// Durable queues
	queues, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("failed to open queue store: %w", err)
	}
	inQueue, err := queues.Queue(queue.In)
	if err != nil {
		return err
	}
	outQueue, err := queues.Queue(queue.Out)
	if err != nil {
		return err
	}
	archiveQueue, err := queues.Queue(queue.Archive)
	if err != nil {
		return err
	}
	shuntQueue, err := queues.Queue(queue.Shunt)
	if err != nil {
		return err
	}

	// Delivery, notifications, membership, archiver
	transportTimeout, err := cfg.Transport.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid transport timeout: %w", err)
	}
	engine := delivery.NewEngine(delivery.Options{
		TransportPath: cfg.Transport.Command,
		SpawnCount:    cfg.Transport.GetSpawnCount(),
		Timeout:       transportTimeout,
		Hostname:      cfg.LMTP.Hostname,
		OutQueue:      outQueue,
	})
	notifier := notify.NewNotifier(engine)
	manager := membership.NewManager(store, notifier)

	archiverTimeout, err := cfg.Archiver.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid archiver timeout: %w", err)
	}
	adapter := archiver.NewAdapter(archiver.Options{
		Name:    cfg.Archiver.Name,
		BaseURL: cfg.Archiver.BaseURL,
		Command: cfg.Archiver.Command,
		Timeout: archiverTimeout,
	})

	// Pipeline runners
	interval, err := cfg.Pipeline.GetInterval()
	if err != nil {
		return fmt.Errorf("invalid pipeline interval: %w", err)
	}
	archiveRunner := pipeline.NewRunner(archiveQueue, shuntQueue, []pipeline.Handler{
		&pipeline.ArchiverHandler{Lists: store.Lists(), Adapter: adapter},
	}, interval)
	outRunner := pipeline.NewRunner(outQueue, shuntQueue, []pipeline.Handler{
		&pipeline.SendHandler{Lists: store.Lists(), Engine: engine},
	}, interval)
	inRunner := pipeline.NewRunner(inQueue, shuntQueue, []pipeline.Handler{
		&pipeline.BanHandler{Lists: store.Lists()},
		&pipeline.ArchiveHandler{Archive: archiveQueue, Notify: archiveRunner.NotifyQueued},
		&pipeline.DeliverHandler{
			Lists:    store.Lists(),
			Members:  manager,
			Engine:   engine,
			Notifier: notifier,
		},
	}, interval)

	for _, r := range []*pipeline.Runner{archiveRunner, outRunner, inRunner} {
		r.Start(ctx)
		defer r.Stop()
	}

	// Front ends
	errChan := make(chan error, 1)

	backend, err := lmtp.New(ctx, cfg.LMTP.Hostname, cfg.LMTP.Addr, store.Lists(), inQueue, lmtp.Options{
		Debug:          cfg.LMTP.Debug,
		MaxMessageSize: cfg.LMTP.MaxMessageSize,
		Notifier:       inRunner,
	})
	if err != nil {
		return fmt.Errorf("failed to create LMTP server: %w", err)
	}
	go backend.Start(errChan)
	defer backend.Close()

	if cfg.Metrics.Enabled {
		api := httpapi.New(cfg.Metrics.Addr, queues)
		go api.Start(ctx, errChan)
	}

	logger.Info("mailmand started", "lmtp_addr", cfg.LMTP.Addr,
		"queue_path", cfg.Queue.Path, "metrics", cfg.Metrics.Enabled)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down on signal")
		return nil
	case err := <-errChan:
		return err
	}
}

// bootstrapLists ensures the configured lists exist in the registry.
func bootstrapLists(ctx context.Context, store list.Store, configs []config.ListConfig) error {
	for _, lc := range configs {
		sendGoodbye := true
		if lc.SendGoodbyeMsg != nil {
			sendGoodbye = *lc.SendGoodbyeMsg
		}
		mlist := &list.MailingList{
			ListName:            lc.Name,
			DisplayName:         lc.DisplayName,
			SubjectPrefix:       lc.SubjectPrefix,
			WelcomeText:         lc.WelcomeText,
			GoodbyeText:         lc.GoodbyeText,
			ReplyGoesToList:     lc.ReplyGoesToList,
			SendGoodbyeMsg:      sendGoodbye,
			AdminNotifyMchanges: lc.AdminNotifyMchanges,
			MigrationNotice:     lc.MigrationNotice,
			BanPatterns:         lc.BanPatterns,
		}
		err := store.Lists().Create(ctx, mlist)
		if err != nil {
			if errors.Is(err, consts.ErrDBUniqueViolation) {
				logger.Debug("List already exists", "list", lc.Name)
				continue
			}
			return fmt.Errorf("failed to create list %s: %w", lc.Name, err)
		}
		logger.Info("List created from configuration", "list", mlist.ListName)
	}
	return nil
}
