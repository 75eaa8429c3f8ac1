package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"stairs/internal/core"
)

const helpText = `Log the stairs you climb.
<number> or /add <number> - add to today
/sub <number> - subtract from today
/update <date> <+/-number> - correct a day (2024-03-01 or 01.03)
/me - your stats
/top - all-time leaderboard
/today - today's leaderboard
/chart [days] - daily series for the last days
/name [new name] - set your name
/cancel - stop waiting for a name`

func (h *Handler) start(ctx context.Context, ev Event, _ []string) Result {
	if rec, found := h.ledger.Record(ev.UserID); found && h.ledger.IsRegistered(ev.UserID) && rec.Name != core.UnnamedLabel {
		return ok(fmt.Sprintf("Welcome back, %s! You have climbed %d stairs so far.", rec.Name, rec.Total), rec)
	}
	h.ledger.AwaitName(ev.UserID)
	return ok("Hi! What name should I show on the leaderboard?", nil)
}

func (h *Handler) rename(ctx context.Context, ev Event, args []string) Result {
	if len(args) == 0 {
		h.ledger.AwaitName(ev.UserID)
		return ok("Send me the name you want to use.", nil)
	}
	return h.register(ctx, ev.UserID, strings.Join(args, " "))
}

func (h *Handler) register(ctx context.Context, userID, name string) Result {
	rec, err := h.ledger.Register(ctx, userID, name)
	if err != nil {
		return h.failFor(ctx, userID, err)
	}
	return ok(fmt.Sprintf("Nice to meet you, %s! Send a number to log stairs.", rec.Name), rec)
}

func (h *Handler) cancel(_ context.Context, ev Event, _ []string) Result {
	h.ledger.CancelAwaitName(ev.UserID)
	return ok("Okay.", nil)
}

func (h *Handler) add(ctx context.Context, ev Event, args []string) Result {
	if len(args) != 1 {
		return fail("Usage: /add <number>")
	}
	amount, err := core.ParseAmount(args[0])
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	rec, day, err := h.ledger.AddToday(ctx, ev.UserID, ev.DisplayNameHint, amount)
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	return ok(fmt.Sprintf("+%d. Today: %d, total: %d.", amount, rec.Days[day], rec.Total), rec)
}

func (h *Handler) subtract(ctx context.Context, ev Event, args []string) Result {
	if len(args) != 1 {
		return fail("Usage: /sub <number>")
	}
	amount, err := core.ParseAmount(args[0])
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	rec, day, err := h.ledger.SubtractToday(ctx, ev.UserID, amount)
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	return ok(fmt.Sprintf("-%d. Today: %d, total: %d.", amount, rec.Days[day], rec.Total), rec)
}

func (h *Handler) update(ctx context.Context, ev Event, args []string) Result {
	if len(args) != 2 {
		return fail("Usage: /update <date> <+/-number>")
	}
	day, err := core.ParseDateKey(args[0], h.ledger.Today().Time())
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	delta, err := core.ParseDelta(args[1])
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	rec, err := h.ledger.UpdateDay(ctx, ev.UserID, day, delta)
	if err != nil {
		return h.failFor(ctx, ev.UserID, err)
	}
	return ok(fmt.Sprintf("%s is now %d. Total: %d.", day, rec.Days[day], rec.Total), rec)
}

func (h *Handler) me(_ context.Context, ev Event, _ []string) Result {
	rec, found := h.ledger.Record(ev.UserID)
	if !found {
		return fail("You have no stairs yet. Send /start to register.")
	}
	today := h.ledger.Today()
	best, bestDay := 0, core.DateKey("")
	for day, v := range rec.Days {
		if v > best || (v == best && v > 0 && day > bestDay) {
			best, bestDay = v, day
		}
	}
	msg := fmt.Sprintf("%s: today %d, total %d, %d days logged.", rec.Name, rec.Days[today], rec.Total, len(rec.Days))
	if best > 0 {
		msg += fmt.Sprintf(" Best day: %s (%d).", bestDay, best)
	}
	return ok(msg, rec)
}

func (h *Handler) top(_ context.Context, _ Event, _ []string) Result {
	entries := h.ledger.Leaderboard("")
	if len(entries) == 0 {
		return ok("Nobody has climbed anything yet.", entries)
	}
	return ok("All-time leaderboard\n"+renderLeaderboard(entries), entries)
}

func (h *Handler) today(_ context.Context, _ Event, _ []string) Result {
	day := h.ledger.Today()
	entries := h.ledger.Leaderboard(day)
	if len(entries) == 0 {
		return ok("Nothing logged today yet.", entries)
	}
	return ok(fmt.Sprintf("Leaderboard for %s\n%s", day, renderLeaderboard(entries)), entries)
}

func (h *Handler) chart(_ context.Context, _ Event, args []string) Result {
	days := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fail(fmt.Sprintf("Usage: /chart [days], days from %d to %d", core.MinChartDays, core.MaxChartDays))
		}
		days = n
	}
	series := h.ledger.Series(days)
	return ok(renderSeries(series), series)
}

func (h *Handler) help(_ context.Context, _ Event, _ []string) Result {
	return ok(helpText, nil)
}
