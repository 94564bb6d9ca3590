// Package bot is the Discord presentation adapter. It owns the gateway
// session, registers the slash commands, and forwards every command to the
// market engine's topic dispatch. It holds no game state of its own.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"galactic/internal/market"
)

// Discord rejects messages over 2000 characters; leave room for code fences.
const maxMessageLen = 1900

type Bot struct {
	session       *discordgo.Session
	engine        *market.Engine
	log           *slog.Logger
	guildID       string
	systemChannel string

	ctx   context.Context
	ready chan struct{}
}

func New(token, guildID, systemChannel string, engine *market.Engine, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	b := &Bot{
		session:       session,
		engine:        engine,
		log:           logger,
		guildID:       guildID,
		systemChannel: systemChannel,
		ready:         make(chan struct{}),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onMemberJoin)
	return b, nil
}

// Open connects the gateway and blocks until Discord signals readiness, so
// the engine only initializes against a live member list.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	select {
	case <-b.ready:
	case <-time.After(30 * time.Second):
		b.session.Close()
		return fmt.Errorf("discord session never became ready")
	case <-ctx.Done():
		b.session.Close()
		return ctx.Err()
	}
	return b.registerCommands()
}

func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord session ready", "username", r.User.Username)
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

const memberPageSize = 1000

// ListMembers enumerates every non-bot member of the guild, mapping external
// id to display name. Called once during engine initialization.
func (b *Bot) ListMembers(ctx context.Context) (map[int64]string, error) {
	return collectMembers(ctx, b.log, func(after string) ([]*discordgo.Member, error) {
		return b.session.GuildMembers(b.guildID, after, memberPageSize)
	})
}

func collectMembers(ctx context.Context, log *slog.Logger, fetch func(after string) ([]*discordgo.Member, error)) (map[int64]string, error) {
	out := make(map[int64]string)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members, err := fetch(after)
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		if len(members) == 0 {
			return out, nil
		}

		// Advance the cursor past the whole page before filtering, so a page
		// full of bots cannot stall pagination.
		prev := after
		for _, m := range members {
			if m.User != nil {
				after = m.User.ID
			}
		}
		if after == prev {
			return out, nil
		}

		for _, m := range members {
			if m.User == nil || m.User.Bot {
				continue
			}
			id, err := strconv.ParseInt(m.User.ID, 10, 64)
			if err != nil {
				log.Error("unparseable member id", "id", m.User.ID)
				continue
			}
			out[id] = m.User.Username
		}
	}
}

func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "buy",
			Description: "Buy shares of a stock at the current market price",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "symbol", Description: "Stock symbol", Required: true},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "quantity", Description: "Number of shares", Required: true},
			},
		},
		{
			Name:        "sell",
			Description: "Sell shares of a stock at the current market price",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "symbol", Description: "Stock symbol", Required: true},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "quantity", Description: "Number of shares", Required: true},
			},
		},
		{Name: "portfolio", Description: "Show your cash, balance, and holdings"},
		{Name: "leaderboard", Description: "Show the top players by balance"},
		{Name: "stocks", Description: "Show every listed stock with its 24h return"},
		{
			Name:        "compare_stocks",
			Description: "Chart two stocks' price histories against each other",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "first", Description: "First symbol", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "second", Description: "Second symbol", Required: true},
			},
		},
	}
	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(appID, b.guildID, cmd); err != nil {
			return fmt.Errorf("register /%s: %w", cmd.Name, err)
		}
	}
	b.log.Info("slash commands registered", "count", len(commands))
	return nil
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	userID, ok := interactionUserID(i)
	if !ok {
		b.respond(s, i, "Could not work out who you are.")
		return
	}

	data := i.ApplicationCommandData()
	opts := optionMap(data.Options)

	var result string
	switch data.Name {
	case "buy":
		result = b.engine.Dispatch(b.ctx, market.TopicBuy, market.Order{
			UserID: userID,
			Symbol: opts["symbol"].StringValue(),
			Qty:    opts["quantity"].IntValue(),
		})
	case "sell":
		result = b.engine.Dispatch(b.ctx, market.TopicSell, market.Order{
			UserID: userID,
			Symbol: opts["symbol"].StringValue(),
			Qty:    opts["quantity"].IntValue(),
		})
	case "portfolio":
		result = codeBlock(b.engine.Dispatch(b.ctx, market.TopicPortfolio, market.PortfolioQuery{UserID: userID}))
	case "leaderboard":
		result = codeBlock(b.engine.Dispatch(b.ctx, market.TopicLeaderboard, nil))
	case "stocks":
		result = codeBlock(b.engine.Dispatch(b.ctx, market.TopicAllStocks, nil))
	case "compare_stocks":
		result = codeBlock(b.engine.Dispatch(b.ctx, market.TopicCompareStocks, market.Compare{
			SymbolA: opts["first"].StringValue(),
			SymbolB: opts["second"].StringValue(),
		}))
	default:
		b.log.Error("unknown slash command", "name", data.Name)
		return
	}
	b.respond(s, i, result)
}

func (b *Bot) onMemberJoin(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	id, err := strconv.ParseInt(m.User.ID, 10, 64)
	if err != nil {
		b.log.Error("unparseable member id on join", "id", m.User.ID)
		return
	}
	b.engine.Dispatch(b.ctx, market.TopicNewUser, market.NewMember{
		UserID:   id,
		Username: m.User.Username,
	})
	b.announce(fmt.Sprintf("%s joined the exchange with a fresh account.", m.User.Username))
}

// announce posts to the system channel, when one is configured.
func (b *Bot) announce(content string) {
	if b.systemChannel == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(b.systemChannel, content); err != nil {
		b.log.Error("system channel post failed", "err", err)
	}
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if content == "" {
		content = "Done."
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.log.Error("interaction respond failed", "err", err)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) (int64, bool) {
	var raw string
	if i.Member != nil && i.Member.User != nil {
		raw = i.Member.User.ID
	} else if i.User != nil {
		raw = i.User.ID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		out[o.Name] = o
	}
	return out
}

func codeBlock(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen] + "\n…"
	}
	return "```\n" + s + "\n```"
}
