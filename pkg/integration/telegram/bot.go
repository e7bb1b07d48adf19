package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/sync"
)

// Bot wraps the Telegram bot API and dependencies
type Bot struct {
	API    *tgbotapi.BotAPI
	ChatID int64
	Engine *sync.Engine
	stopCh chan struct{}
}

// NewBot creates a new Telegram bot. chatID is where run summaries
// are posted; zero disables notifications.
func NewBot(token string, chatID int64, engine *sync.Engine) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating Telegram bot: %w", err)
	}

	return &Bot{
		API:    api,
		ChatID: chatID,
		Engine: engine,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins polling for updates in a goroutine
func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.API.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-b.stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop stops polling for updates
func (b *Bot) Stop() {
	close(b.stopCh)
	b.API.StopReceivingUpdates()
}

// NotifyRun posts a run summary to the configured chat.
func (b *Bot) NotifyRun(run *db.SyncRun) {
	if b.ChatID == 0 {
		return
	}
	b.send(b.ChatID, sync.FormatRunSummary(run))
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	switch ParseCommand(msg.Text) {
	case "/sync":
		b.handleSync(msg)
	case "/status":
		b.handleStatus(msg)
	}
}

func (b *Bot) handleSync(msg *tgbotapi.Message) {
	run, err := b.Engine.Import(context.Background(), nil)
	if errors.Is(err, db.ErrSyncInProgress) {
		b.send(msg.Chat.ID, "A sync run is already in progress.")
		return
	}
	if run == nil {
		b.send(msg.Chat.ID, fmt.Sprintf("Sync failed: %v", err))
		return
	}
	b.send(msg.Chat.ID, sync.FormatRunSummary(run))
}

func (b *Bot) handleStatus(msg *tgbotapi.Message) {
	status, err := b.Engine.Status()
	if err != nil {
		b.send(msg.Chat.ID, fmt.Sprintf("Error fetching status: %v", err))
		return
	}
	b.send(msg.Chat.ID, sync.FormatStatus(status))
}

func (b *Bot) send(chatID int64, text string) {
	reply := tgbotapi.NewMessage(chatID, text)
	if _, err := b.API.Send(reply); err != nil {
		log.Printf("Failed to send Telegram message: %v", err)
	}
}

// ParseCommand extracts the command from a message text. Returns ""
// for anything that is not a recognized command.
func ParseCommand(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "/sync" || strings.HasPrefix(text, "/sync "):
		return "/sync"
	case text == "/status":
		return "/status"
	}
	return ""
}
