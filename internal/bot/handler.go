// Package bot turns chat messages into ledger operations and replies. It
// knows nothing about the transport delivering the messages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stairs/internal/core"
	"stairs/internal/log"
)

// Event is one inbound chat message.
type Event struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	// DisplayNameHint names users who log before registering.
	DisplayNameHint string `json:"displayNameHint,omitempty"`
}

// Result is the reply to an Event. Data carries the structured view the
// message was rendered from, for transports that draw their own output.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Ledger is the part of services.LedgerService the bot drives.
type Ledger interface {
	Today() core.DateKey
	Register(ctx context.Context, userID, name string) (core.UserRecord, error)
	AwaitName(userID string)
	IsAwaitingName(userID string) bool
	CancelAwaitName(userID string)
	AddToday(ctx context.Context, userID, fallbackName string, amount int) (core.UserRecord, core.DateKey, error)
	SubtractToday(ctx context.Context, userID string, amount int) (core.UserRecord, core.DateKey, error)
	UpdateDay(ctx context.Context, userID string, day core.DateKey, delta int) (core.UserRecord, error)
	Record(userID string) (core.UserRecord, bool)
	IsRegistered(userID string) bool
	Leaderboard(day core.DateKey) []core.LeaderboardEntry
	Series(days int) core.Series
}

type command func(ctx context.Context, ev Event, args []string) Result

// Handler dispatches chat events to commands.
type Handler struct {
	ledger   Ledger
	logger   *log.Logger
	commands map[string]command
}

func NewHandler(ledger Ledger, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	h := &Handler{ledger: ledger, logger: logger.WithComponent(log.ComponentBot)}
	h.commands = map[string]command{
		"start":  h.start,
		"name":   h.rename,
		"add":    h.add,
		"sub":    h.subtract,
		"update": h.update,
		"me":     h.me,
		"top":    h.top,
		"today":  h.today,
		"chart":  h.chart,
		"help":   h.help,
		"cancel": h.cancel,
	}
	return h
}

// Handle processes one message. It never returns an error: failures are
// reported in the Result.
func (h *Handler) Handle(ctx context.Context, ev Event) Result {
	text := strings.TrimSpace(ev.Text)
	if ev.UserID == "" {
		return fail("Missing user id.")
	}
	if text == "" {
		return fail("Send a number of stairs, or /help.")
	}

	if name, args, ok := parseCommand(text); ok {
		cmd, known := h.commands[name]
		if !known {
			return fail(fmt.Sprintf("Unknown command /%s. Try /help.", name))
		}
		h.logger.DebugContext(ctx, "Handling command", log.FieldUserID, ev.UserID, log.FieldCommand, name)
		return cmd(ctx, ev, args)
	}

	if h.ledger.IsAwaitingName(ev.UserID) {
		return h.register(ctx, ev.UserID, text)
	}
	if isInteger(text) {
		return h.add(ctx, ev, []string{text})
	}
	return fail("I did not understand that. Send a number of stairs, or /help.")
}

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments.
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), fields[1:], true
}

func isInteger(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ok(msg string, data any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

func fail(msg string) Result {
	return Result{Success: false, Message: msg}
}

// failFor maps domain errors to user-facing replies.
func (h *Handler) failFor(ctx context.Context, userID string, err error) Result {
	var balance *core.DayBalanceError
	switch {
	case errors.As(err, &balance):
		return fail(fmt.Sprintf("You only have %d on %s, cannot subtract %d.", balance.Current, balance.Day, balance.Requested))
	case errors.Is(err, core.ErrInvalidAmount):
		return fail(fmt.Sprintf("Amount must be a whole number from 1 to %d.", core.MaxAmount))
	case errors.Is(err, core.ErrInvalidDateFormat):
		return fail("Dates look like 2024-03-01 or 01.03.")
	case errors.Is(err, core.ErrInvalidName):
		return fail(fmt.Sprintf("Names must be %d to %d characters. Try again.", core.MinNameLength, core.MaxNameLength))
	default:
		h.logger.ErrorContext(ctx, "Command failed", log.FieldUserID, userID, log.FieldError, err)
		return fail("Something went wrong, please try again.")
	}
}
