// Package telegram exposes the chat assistant and query controls through a
// Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/skyq/internal/assistant"
	"github.com/user/skyq/internal/orchestrator"
	"github.com/user/skyq/internal/query"
	"github.com/user/skyq/internal/state"
	"github.com/user/skyq/internal/types"
)

// Source is the delivery source handled by the adapter.
const Source = "telegram"

const (
	maxTelegramMessage = 4096
	statusLogLines     = 5
)

const helpText = "Describe the flights you are looking for and I'll build the query.\n" +
	"Commands: /run, /status, /cancel, /params, /clear, /presets, /preset <name>, /saved, /runsaved <name>"

// sender is the part of the bot API used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the assistant and the orchestrator.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	out     sender
	orch    *orchestrator.Orchestrator
	chat    *assistant.Assistant
	saved   *state.SavedQueryStore
	allowed map[int64]bool
	now     func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAllowedChats restricts the bot to the given chat ids. An empty list
// allows every chat.
func WithAllowedChats(ids []int64) Option {
	return func(a *Adapter) {
		if len(ids) == 0 {
			return
		}
		a.allowed = make(map[int64]bool, len(ids))
		for _, id := range ids {
			a.allowed[id] = true
		}
	}
}

// WithSavedQueries enables /saved and /runsaved.
func WithSavedQueries(store *state.SavedQueryStore) Option {
	return func(a *Adapter) { a.saved = store }
}

// New creates a Telegram adapter.
func New(token string, orch *orchestrator.Orchestrator, chat *assistant.Assistant, opts ...Option) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, orch, chat, opts...)
	a.bot = bot
	return a, nil
}

func newAdapter(out sender, orch *orchestrator.Orchestrator, chat *assistant.Assistant, opts ...Option) *Adapter {
	a := &Adapter{
		out:  out,
		orch: orch,
		chat: chat,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends a notice to the chat named by key, "telegram:<chat id>".
// It has the signature of a delivery handler.
func (a *Adapter) Deliver(key types.OriginKey, message string) error {
	chatID, err := chatFromKey(key)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(message) {
		if _, err := a.out.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if a.allowed != nil && !a.allowed[chatID] {
		slog.Warn("telegram message from unlisted chat ignored", "chat_id", chatID)
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	if a.chat == nil {
		a.sendResponse(chatID, "The assistant is not configured.")
		return
	}
	reply, err := a.chat.Send(ctx, msg.Text)
	if err != nil {
		slog.Error("assistant send failed", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
		return
	}
	for _, m := range reply.Messages {
		if m.Role != state.RoleAssistant {
			continue
		}
		if m.Type == state.MessageCode {
			a.sendResponse(chatID, "```\n"+m.Content+"\n```")
			continue
		}
		a.sendResponse(chatID, m.Content)
	}
	if reply.Parsed != nil {
		a.sendResponse(chatID, query.Describe(reply.Parsed.Params)+" Send /run to execute.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	st := a.orch.State()

	switch msg.Command() {
	case "start", "help":
		a.sendResponse(chatID, "Hello! I'm skyq. "+helpText)

	case "run":
		a.startRun(chatID, func(opts ...orchestrator.ExecOption) (types.RunID, error) {
			return a.orch.Execute(st.Params(), st.QueryType(), opts...)
		})

	case "status":
		a.sendResponse(chatID, formatStatus(a.orch.Status()))

	case "cancel":
		if err := a.orch.Cancel(ctx); err != nil {
			a.sendResponse(chatID, "Nothing to cancel: "+err.Error())
			return
		}
		a.sendResponse(chatID, "Query cancelled.")

	case "params":
		a.sendResponse(chatID, "```\n"+query.Preview(st.Params(), st.QueryType())+"\n```")

	case "clear":
		st.ClearParams()
		st.ClearMessages()
		a.sendResponse(chatID, "Parameters and conversation cleared.")

	case "presets":
		a.sendResponse(chatID, "Presets: "+strings.Join(query.Presets, ", "))

	case "preset":
		p, err := st.ApplyPreset(strings.TrimSpace(msg.CommandArguments()))
		if err != nil {
			a.sendResponse(chatID, err.Error())
			return
		}
		a.sendResponse(chatID, "```\n"+query.Preview(p, st.QueryType())+"\n```")

	case "saved":
		a.listSaved(chatID)

	case "runsaved":
		a.runSaved(chatID, strings.TrimSpace(msg.CommandArguments()))

	default:
		a.sendResponse(chatID, "Unknown command. "+helpText)
	}
}

func (a *Adapter) startRun(chatID int64, exec func(opts ...orchestrator.ExecOption) (types.RunID, error)) {
	key := buildOriginKey(chatID)
	id, err := exec(orchestrator.WithOrigin(key), orchestrator.WithNotify(string(key)))
	if err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			a.sendResponse(chatID, "A query is already running. Use /status or /cancel.")
			return
		}
		a.sendResponse(chatID, "Could not start query: "+err.Error())
		return
	}
	a.sendResponse(chatID, fmt.Sprintf("Query started (run %s). I'll message you when it finishes.", id))
}

func (a *Adapter) listSaved(chatID int64) {
	if a.saved == nil {
		a.sendResponse(chatID, "Saved queries are not configured.")
		return
	}
	saved, err := a.saved.List()
	if err != nil {
		slog.Error("list saved queries failed", "error", err)
		a.sendResponse(chatID, "Error listing saved queries.")
		return
	}
	if len(saved) == 0 {
		a.sendResponse(chatID, "No saved queries.")
		return
	}
	var b strings.Builder
	for _, q := range saved {
		fmt.Fprintf(&b, "%s (%s)", q.Name, q.Type)
		if q.Schedule != "" {
			fmt.Fprintf(&b, " schedule %q", q.Schedule)
		}
		if !q.Enabled {
			b.WriteString(" disabled")
		}
		b.WriteString("\n")
	}
	a.sendResponse(chatID, strings.TrimRight(b.String(), "\n"))
}

func (a *Adapter) runSaved(chatID int64, name string) {
	if a.saved == nil {
		a.sendResponse(chatID, "Saved queries are not configured.")
		return
	}
	if name == "" {
		a.sendResponse(chatID, "Usage: /runsaved <name>")
		return
	}
	q, err := a.saved.Get(name)
	if err != nil {
		a.sendResponse(chatID, err.Error())
		return
	}
	a.startRun(chatID, func(...orchestrator.ExecOption) (types.RunID, error) {
		// The chat that asked is notified, whatever the saved target.
		key := buildOriginKey(chatID)
		saved := *q
		saved.Notify = string(key)
		return a.orch.ExecuteSaved(&saved, a.now(), key)
	})
}

func formatStatus(snap state.StatusSnapshot) string {
	if snap.RunID == "" {
		return "No query has been run yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", snap.Status)
	if snap.Result != nil {
		fmt.Fprintf(&b, "Result: %s\n", snap.Result.Summary())
	}
	if snap.QueryID != "" {
		fmt.Fprintf(&b, "Trino query: %s\n", snap.QueryID)
	}
	if logs := snap.RecentLogs(statusLogLines); len(logs) > 0 {
		b.WriteString("Recent logs:\n")
		b.WriteString(strings.Join(logs, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				slog.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildOriginKey(chatID int64) types.OriginKey {
	return types.NewOriginKey(Source, strconv.FormatInt(chatID, 10))
}

func chatFromKey(key types.OriginKey) (int64, error) {
	src, rest, _ := strings.Cut(string(key), ":")
	if src != Source {
		return 0, fmt.Errorf("not a telegram origin: %s", key)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat in %s: %w", key, err)
	}
	return id, nil
}
