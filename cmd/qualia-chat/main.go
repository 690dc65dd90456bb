// ABOUTME: Entry point for the qualia terminal chat client
// ABOUTME: Dispatches chat, export, and reset subcommands over the session manager

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/tzironis/qualia/internal/cache"
	"github.com/tzironis/qualia/internal/config"
	"github.com/tzironis/qualia/internal/poller"
	"github.com/tzironis/qualia/internal/provider"
	"github.com/tzironis/qualia/internal/queue"
	"github.com/tzironis/qualia/internal/session"
	"github.com/tzironis/qualia/internal/speech"
	"github.com/tzironis/qualia/internal/store"
	"github.com/tzironis/qualia/internal/transcript"
	"github.com/tzironis/qualia/internal/websearch"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __ _ _   _  __ _| (_) __ _
  / _' | | | |/ _' | | |/ _' |
 | (_| | |_| | (_| | | | (_| |
  \__, |\__,_|\__,_|_|_|\__,_|
     |_|
`

// getConfigPath returns the path to the client config file.
// Priority: QUALIA_CONFIG env var > XDG_CONFIG_HOME/qualia/config.yaml > ~/.config/qualia/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("QUALIA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "qualia", "config.yaml")
}

func main() {
	// Local .env values fill in ${VAR} references in the YAML config
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: qualia-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat            Start an interactive chat session")
		fmt.Println("  export [FILE]   Export the conversation transcript as HTML")
		fmt.Println("  reset           Start a fresh conversation thread")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx)
	case "export":
		err = runExport(ctx)
	case "reset":
		err = runReset(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client bundles the session manager with everything that needs closing.
type client struct {
	manager  *session.Manager
	search   *websearch.Client
	speech   *speech.Client
	msgCache *cache.Cache[[]provider.Message]
	store    *store.SQLiteStore
	poller   *poller.Poller
}

func (c *client) close() {
	c.search.Close()
	c.speech.Close()
	c.msgCache.Close()
	if err := c.store.Close(); err != nil {
		slog.Warn("closing store", "error", err)
	}
}

func buildClient(cfg *config.Config, logger *slog.Logger) (*client, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gateway := provider.NewHTTPGateway(provider.HTTPOptions{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		RequestTimeout: cfg.Provider.RequestTimeout,
	}, logger)

	p := poller.New(gateway, poller.Options{
		Interval: cfg.Polling.Interval,
		MaxWait:  cfg.Polling.MaxWait,
	}, logger)

	q := queue.New(st, gateway, logger)

	msgCache := cache.New[[]provider.Message](cfg.Caches.Messages.Size, cfg.Caches.Messages.TTL)

	manager := session.New(gateway, p, st, q, msgCache, session.Options{
		PageSize:       cfg.Session.PageSize,
		WelcomeMessage: cfg.Session.WelcomeMessage,
	}, logger)

	searchClient := websearch.New(websearch.Config{
		BaseURL:   cfg.Search.BaseURL,
		APIKey:    cfg.Search.APIKey,
		EngineID:  cfg.Search.EngineID,
		CacheSize: cfg.Caches.Search.Size,
		CacheTTL:  cfg.Caches.Search.TTL,
	}, logger)

	speechClient := speech.New(speech.Config{
		BaseURL:   cfg.Speech.BaseURL,
		APIKey:    cfg.Speech.APIKey,
		CacheSize: cfg.Caches.Audio.Size,
	}, logger)

	return &client{
		manager:  manager,
		search:   searchClient,
		speech:   speechClient,
		msgCache: msgCache,
		store:    st,
		poller:   p,
	}, nil
}

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Provider: %s\n", cfg.Provider.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Storage:  %s\n", cfg.Storage.Path)
	fmt.Println()

	c, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	snap := c.manager.Snapshot()
	printHistory(snap)
	if snap.Error != "" {
		color.Yellow("! %s", snap.Error)
	}

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return chatLoop(ctx, c)
}

func chatLoop(ctx context.Context, c *client) error {
	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgGreen, color.Bold)

	for {
		prompt.Print("> ")

		if !scanner.Scan() {
			if ctx.Err() != nil {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done, err := handleCommand(ctx, c, line); done {
				return err
			}
			continue
		}

		if err := c.manager.SendMessage(ctx, line); err != nil {
			color.Yellow("! %s", session.UserMessage(err))
			continue
		}

		printLatestAssistant(c.manager.Snapshot())
	}
}

// handleCommand runs a slash command. It returns true when the loop should exit.
func handleCommand(ctx context.Context, c *client, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /more           Load older messages")
		fmt.Println("  /search QUERY   Search the web")
		fmt.Println("  /say TEXT       Synthesize speech for TEXT")
		fmt.Println("  /reset          Start a fresh conversation")
		fmt.Println("  /quit           Exit")

	case "/more":
		if err := c.manager.LoadMoreMessages(ctx); err != nil {
			color.Yellow("! %s", session.UserMessage(err))
			break
		}
		printHistory(c.manager.Snapshot())

	case "/search":
		if arg == "" {
			fmt.Println("Usage: /search QUERY")
			break
		}
		results, err := c.search.Search(ctx, arg, websearch.Options{Num: 5})
		if err != nil {
			color.Yellow("! search failed: %v", err)
			break
		}
		for i, r := range results {
			fmt.Printf("%d. %s\n   %s\n   %s\n", i+1, r.Title, r.Link, r.Snippet)
		}

	case "/say":
		if arg == "" {
			fmt.Println("Usage: /say TEXT")
			break
		}
		audio, err := c.speech.Synthesize(ctx, speech.Request{Text: arg})
		if err != nil {
			color.Yellow("! speech synthesis failed: %v", err)
			break
		}
		path := filepath.Join(os.TempDir(), "qualia-say.mp3")
		if err := os.WriteFile(path, audio, 0644); err != nil {
			color.Yellow("! writing audio: %v", err)
			break
		}
		fmt.Printf("Audio written to %s (%d bytes)\n", path, len(audio))

	case "/reset":
		if err := c.manager.ForceReset(ctx); err != nil {
			color.Yellow("! %s", session.UserMessage(err))
			break
		}
		fmt.Println("Started a fresh conversation.")
		printHistory(c.manager.Snapshot())

	case "/quit", "/exit":
		fmt.Println("Goodbye!")
		return true, nil

	default:
		fmt.Printf("Unknown command: %s (try /help)\n", cmd)
	}

	return false, nil
}

func runExport(ctx context.Context) error {
	outPath := "transcript.html"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	c, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	// Pull the full history before rendering
	for c.manager.Snapshot().HasMore {
		if err := c.manager.LoadMoreMessages(ctx); err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer f.Close()

	snap := c.manager.Snapshot()
	if err := transcript.Write(f, snap.Messages); err != nil {
		return err
	}

	fmt.Printf("Exported %d messages to %s\n", len(snap.Messages), outPath)
	return nil
}

func runReset(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	c, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.manager.ResetThread(ctx, cfg.Session.WelcomeMessage); err != nil {
		return fmt.Errorf("resetting thread: %w", err)
	}

	fmt.Printf("Started a fresh conversation thread: %s\n", c.manager.Snapshot().ThreadID)
	return nil
}

// printHistory prints the loaded messages oldest first.
func printHistory(snap session.Snapshot) {
	if snap.HasMore {
		color.HiBlack("    (older messages available, /more to load)")
	}
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		printMessage(snap.Messages[i])
	}
	fmt.Println()
}

func printLatestAssistant(snap session.Snapshot) {
	for _, msg := range snap.Messages {
		if msg.Role == provider.RoleAssistant {
			printMessage(msg)
			return
		}
	}
	if snap.Error != "" {
		color.Yellow("! %s", snap.Error)
	}
}

func printMessage(msg session.Message) {
	label := color.CyanString("assistant")
	if msg.Role == provider.RoleUser {
		label = color.GreenString("you")
	}
	suffix := ""
	if msg.Pending {
		suffix = color.HiBlackString(" (queued)")
	}
	fmt.Printf("%s%s: %s\n", label, suffix, msg.Content)
}
