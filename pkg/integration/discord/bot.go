package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/sync"
)

// Bot wraps the Discord session and dependencies
type Bot struct {
	Session   *discordgo.Session
	ChannelID string
	Engine    *sync.Engine
}

// NewBot creates a new Discord bot. channelID is where run summaries
// are posted; empty disables notifications.
func NewBot(token string, channelID string, engine *sync.Engine) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	bot := &Bot{
		Session:   dg,
		ChannelID: channelID,
		Engine:    engine,
	}

	dg.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start opens the websocket connection
func (b *Bot) Start() error {
	return b.Session.Open()
}

// Stop closes the websocket connection
func (b *Bot) Stop() error {
	return b.Session.Close()
}

// NotifyRun posts a run summary to the configured channel.
func (b *Bot) NotifyRun(run *db.SyncRun) {
	if b.ChannelID == "" {
		return
	}
	b.Session.ChannelMessageSend(b.ChannelID, sync.FormatRunSummary(run))
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from self
	if m.Author.ID == s.State.User.ID {
		return
	}

	switch ParseCommand(m.Content) {
	case "!sync":
		b.handleSync(s, m)
	case "!status":
		b.handleStatus(s, m)
	}
}

func (b *Bot) handleSync(s *discordgo.Session, m *discordgo.MessageCreate) {
	run, err := b.Engine.Import(context.Background(), nil)
	if errors.Is(err, db.ErrSyncInProgress) {
		s.ChannelMessageSend(m.ChannelID, "A sync run is already in progress.")
		return
	}
	if run == nil {
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Sync failed: %v", err))
		return
	}
	s.ChannelMessageSend(m.ChannelID, sync.FormatRunSummary(run))
}

func (b *Bot) handleStatus(s *discordgo.Session, m *discordgo.MessageCreate) {
	status, err := b.Engine.Status()
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Error fetching status: %v", err))
		return
	}
	s.ChannelMessageSend(m.ChannelID, sync.FormatStatus(status))
}

// ParseCommand extracts the command from a message. Returns "" for
// anything that is not a recognized command.
func ParseCommand(content string) string {
	content = strings.TrimSpace(content)
	switch {
	case content == "!sync" || strings.HasPrefix(content, "!sync "):
		return "!sync"
	case content == "!status":
		return "!status"
	}
	return ""
}
