// mailman-admin is the operator CLI for the mailing-list engine: list and
// membership management plus queue inspection and shunt recovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/trevor/mailman3/config"
	"github.com/trevor/mailman3/db"
	"github.com/trevor/mailman3/delivery"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/membership"
	"github.com/trevor/mailman3/notify"
	"github.com/trevor/mailman3/queue"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create-list":
		handleCreateList()
	case "delete-list":
		handleDeleteList()
	case "lists":
		handleLists()
	case "add-member":
		handleAddMember()
	case "remove-member":
		handleRemoveMember()
	case "members":
		handleMembers()
	case "queue-stats":
		handleQueueStats()
	case "requeue-shunt":
		handleRequeueShunt()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Mailman Admin Tool

Usage:
  mailman-admin <command> [options]

Commands:
  create-list     Create a mailing list
  delete-list     Delete a mailing list
  lists           Show all mailing lists
  add-member      Subscribe an address to a list
  remove-member   Unsubscribe an address from a list
  members         Show the members of a list
  queue-stats     Show per-queue entry counts
  requeue-shunt   Move shunted entries back into the in queue
  help            Show this help message

Examples:
  mailman-admin create-list --config /etc/mailman3/config.toml --name ant@example.com --display-name Ant
  mailman-admin add-member --name ant@example.com --email anne@example.com --real-name "Anne Person"
  mailman-admin remove-member --name ant@example.com --email anne@example.com
  mailman-admin requeue-shunt --config /etc/mailman3/config.toml
`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mailman-admin: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig parses the shared daemon configuration and quiets the logger
// for interactive use.
func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal("%v", err)
	}
	cfg.Logging.Level = "error"
	if _, err := logger.Initialize(cfg.Logging); err != nil {
		fatal("failed to initialize logger: %v", err)
	}
	return cfg
}

// openStore connects to the configured list registry. The in-memory
// registry is useless for admin commands, so a database is required.
func openStore(ctx context.Context, cfg config.Config) (list.Store, func()) {
	if !cfg.Database.Enabled {
		fatal("admin commands require [database] enabled = true")
	}
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		fatal("failed to open database: %v", err)
	}
	return database.Store(), database.Close
}

func newManager(cfg config.Config, store list.Store) *membership.Manager {
	timeout, err := cfg.Transport.GetTimeout()
	if err != nil {
		fatal("invalid transport timeout: %v", err)
	}
	engine := delivery.NewEngine(delivery.Options{
		TransportPath: cfg.Transport.Command,
		SpawnCount:    cfg.Transport.GetSpawnCount(),
		Timeout:       timeout,
		Hostname:      cfg.LMTP.Hostname,
	})
	return membership.NewManager(store, notify.NewNotifier(engine))
}

func handleCreateList() {
	fs := flag.NewFlagSet("create-list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "Fully qualified list address (required)")
	displayName := fs.String("display-name", "", "Human-readable list name")
	subjectPrefix := fs.String("subject-prefix", "", "Prefix prepended to post subjects")
	replyToList := fs.Bool("reply-to-list", false, "Direct replies to the list")
	fs.Parse(os.Args[2:])

	if *name == "" {
		fatal("--name is required")
	}

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	err := store.Lists().Create(ctx, &list.MailingList{
		ListName:        *name,
		DisplayName:     *displayName,
		SubjectPrefix:   *subjectPrefix,
		ReplyGoesToList: *replyToList,
		SendGoodbyeMsg:  true,
	})
	if err != nil {
		fatal("failed to create list: %v", err)
	}
	fmt.Printf("List %s created\n", *name)
}

func handleDeleteList() {
	fs := flag.NewFlagSet("delete-list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "Fully qualified list address (required)")
	fs.Parse(os.Args[2:])

	if *name == "" {
		fatal("--name is required")
	}

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	if err := store.Lists().Delete(ctx, *name); err != nil {
		fatal("failed to delete list: %v", err)
	}
	fmt.Printf("List %s deleted\n", *name)
}

func handleLists() {
	fs := flag.NewFlagSet("lists", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[2:])

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	lists, err := store.Lists().All(ctx)
	if err != nil {
		fatal("failed to load lists: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "LIST\tDISPLAY NAME\tREPLY TO LIST")
	for _, l := range lists {
		fmt.Fprintf(w, "%s\t%s\t%t\n", l.ListName, l.DisplayName, l.ReplyGoesToList)
	}
	w.Flush()
}

func handleAddMember() {
	fs := flag.NewFlagSet("add-member", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "List address (required)")
	email := fs.String("email", "", "Subscriber address (required)")
	realName := fs.String("real-name", "", "Subscriber display name")
	password := fs.String("password", "", "Subscriber password")
	language := fs.String("language", "en", "Preferred language")
	digest := fs.Bool("digest", false, "Subscribe in digest mode")
	fs.Parse(os.Args[2:])

	if *name == "" || *email == "" {
		fatal("--name and --email are required")
	}

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	mlist, err := store.Lists().Get(ctx, *name)
	if err != nil {
		fatal("failed to resolve list %s: %v", *name, err)
	}

	mode := list.DeliveryRegular
	if *digest {
		mode = list.DeliveryDigest
	}
	_, err = newManager(cfg, store).AddMember(ctx, mlist, membership.SubscribeRequest{
		Email:        *email,
		RealName:     *realName,
		Password:     *password,
		Language:     *language,
		DeliveryMode: mode,
	})
	if err != nil {
		fatal("failed to subscribe %s: %v", *email, err)
	}
	fmt.Printf("%s subscribed to %s\n", *email, mlist.ListName)
}

func handleRemoveMember() {
	fs := flag.NewFlagSet("remove-member", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "List address (required)")
	email := fs.String("email", "", "Subscriber address (required)")
	noGoodbye := fs.Bool("no-goodbye", false, "Suppress the goodbye message")
	noAdminNotify := fs.Bool("no-admin-notify", false, "Suppress the administrator notice")
	fs.Parse(os.Args[2:])

	if *name == "" || *email == "" {
		fatal("--name and --email are required")
	}

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	mlist, err := store.Lists().Get(ctx, *name)
	if err != nil {
		fatal("failed to resolve list %s: %v", *name, err)
	}

	var userAck, adminNotif *bool
	off := false
	if *noGoodbye {
		userAck = &off
	}
	if *noAdminNotify {
		adminNotif = &off
	}
	if err := newManager(cfg, store).DeleteMember(ctx, mlist, *email, adminNotif, userAck); err != nil {
		fatal("failed to unsubscribe %s: %v", *email, err)
	}
	fmt.Printf("%s unsubscribed from %s\n", *email, mlist.ListName)
}

func handleMembers() {
	fs := flag.NewFlagSet("members", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "List address (required)")
	fs.Parse(os.Args[2:])

	if *name == "" {
		fatal("--name is required")
	}

	ctx := context.Background()
	cfg := loadConfig(*configPath)
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	members, addrs, err := store.Members().ByList(ctx, *name, list.RoleMember)
	if err != nil {
		fatal("failed to load members: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tREAL NAME\tDELIVERY\tSINCE")
	for i, m := range members {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			addrs[i].Email, addrs[i].RealName, m.DeliveryMode,
			m.CreatedAt.Format("2006-01-02"))
	}
	w.Flush()
}

func handleQueueStats() {
	fs := flag.NewFlagSet("queue-stats", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	queues, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		fatal("failed to open queue store: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tPENDING\tPROCESSING")
	for _, name := range []string{queue.In, queue.Out, queue.Archive, queue.Shunt} {
		q, err := queues.Queue(name)
		if err != nil {
			fatal("failed to open queue %s: %v", name, err)
		}
		pending, processing, err := q.Stats()
		if err != nil {
			fatal("failed to stat queue %s: %v", name, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\n", name, pending, processing)
	}
	w.Flush()
}

func handleRequeueShunt() {
	fs := flag.NewFlagSet("requeue-shunt", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	queues, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		fatal("failed to open queue store: %v", err)
	}
	shunt, err := queues.Queue(queue.Shunt)
	if err != nil {
		fatal("failed to open shunt queue: %v", err)
	}
	in, err := queues.Queue(queue.In)
	if err != nil {
		fatal("failed to open in queue: %v", err)
	}

	moved := 0
	for {
		entry, msg, err := shunt.Claim()
		if err != nil {
			fatal("failed to claim shunted entry: %v", err)
		}
		if entry == nil {
			break
		}
		if err := shunt.MoveTo(in, entry, msg, ""); err != nil {
			fatal("failed to requeue entry %s: %v", entry.ID, err)
		}
		moved++
	}
	fmt.Printf("%d entries moved back to the in queue\n", moved)
}
