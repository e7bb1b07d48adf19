package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mklimuk/tasksync/pkg/api"
	"github.com/mklimuk/tasksync/pkg/config"
	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/integration/discord"
	"github.com/mklimuk/tasksync/pkg/integration/telegram"
	"github.com/mklimuk/tasksync/pkg/sync"
)

func main() {
	vaultPath := flag.String("vault", "", "Path to Obsidian Vault")
	dbPath := flag.String("db", "tasksync.db", "Path to SQLite DB")
	configPath := flag.String("config", "", "Path to sync config YAML")
	port := flag.String("port", "8080", "HTTP Port")
	syncInterval := flag.Duration("sync-interval", 0, "Periodic import interval (0 disables)")
	useGit := flag.Bool("git", false, "Commit and push vault changes after writes")
	flag.Parse()

	// Load config
	var cfg *config.SyncConfig
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if *vaultPath != "" {
		cfg.VaultPath = *vaultPath
	}
	if cfg.VaultPath == "" {
		log.Fatal("Please provide -vault path or vault_path in the config")
	}

	// Initialize DB
	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}

	repo := db.NewRepository(database)

	// Initialize Git Manager (Optional)
	var gitManager *sync.GitManager
	if *useGit {
		gitManager = sync.NewGitManager(cfg.VaultPath)
	}

	// Initialize Sync Engine
	engine := sync.NewEngine(repo, cfg, gitManager, nil)

	var notifiers sync.MultiNotifier

	// Initialize Discord Bot (Optional)
	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken != "" {
		bot, err := discord.NewBot(discordToken, os.Getenv("DISCORD_CHANNEL_ID"), engine)
		if err != nil {
			log.Printf("Failed to create Discord bot: %v", err)
		} else {
			if err := bot.Start(); err != nil {
				log.Printf("Failed to start Discord bot: %v", err)
			} else {
				log.Println("Discord Bot started")
				notifiers = append(notifiers, bot)
				defer bot.Stop()
			}
		}
	}

	// Initialize Telegram Bot (Optional)
	telegramToken := os.Getenv("TELEGRAM_TOKEN")
	if telegramToken != "" {
		var chatID int64
		if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
			chatID, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				log.Printf("Invalid TELEGRAM_CHAT_ID: %v", err)
			}
		}
		tgBot, err := telegram.NewBot(telegramToken, chatID, engine)
		if err != nil {
			log.Printf("Failed to create Telegram bot: %v", err)
		} else {
			if err := tgBot.Start(); err != nil {
				log.Printf("Failed to start Telegram bot: %v", err)
			} else {
				log.Println("Telegram Bot started")
				notifiers = append(notifiers, tgBot)
				defer tgBot.Stop()
			}
		}
	}

	if len(notifiers) > 0 {
		engine.SetNotifier(notifiers)
	}

	// Initialize Scheduler (Optional)
	if *syncInterval > 0 {
		scheduler := sync.NewScheduler(engine, *syncInterval)
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("Periodic import enabled every %s", (*syncInterval).Round(time.Second))
	}

	// Initialize Router
	router := api.NewRouter(repo, engine)

	log.Printf("Starting server on :%s", *port)
	if err := http.ListenAndServe(":"+*port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
