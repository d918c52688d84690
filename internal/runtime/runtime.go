// Package runtime drives the agent: one cycle reads the server, answers the
// mailbox or reaches out proactively, and executes the chosen actions.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"butlermarket/agent/internal/butler"
	"butlermarket/agent/internal/decision"
	"butlermarket/agent/internal/ledger"
	"butlermarket/agent/internal/llm"
	"butlermarket/agent/internal/negotiation"
	"butlermarket/agent/internal/prompts"
)

const (
	defaultInterval       = 10 * time.Second
	defaultWaitNoPeers    = 10 * time.Second
	defaultCooldown       = 45 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Server is everything the runner needs from the game server.
type Server interface {
	Sender
	Register(ctx context.Context) error
	Info(ctx context.Context) (butler.Info, error)
	People(ctx context.Context) ([]string, error)
	DeleteMail(ctx context.Context, id string) error
}

type Options struct {
	Alias            string
	Gold             string
	SystemSenders    []string
	Interval         time.Duration
	WaitWithoutPeers time.Duration
	Cooldown         time.Duration
	RequestTimeout   time.Duration
	Journal          Journal
	Logger           *slog.Logger
}

type Runner struct {
	Server      Server
	Ledger      *ledger.Ledger
	State       negotiation.Builder
	Composer    *prompts.Composer
	Interpreter *decision.Interpreter
	Executor    *Executor
	Logger      *slog.Logger

	Interval         time.Duration
	WaitWithoutPeers time.Duration
	Cooldown         time.Duration
	RequestTimeout   time.Duration

	// Now is the clock used for the proactive cooldown.
	Now func() time.Time

	lastProactive time.Time
	cycle         uint64
}

func NewRunner(server Server, model llm.Client, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	book := ledger.New(opts.Gold)
	r := &Runner{
		Server: server,
		Ledger: book,
		State: negotiation.Builder{
			Self:          opts.Alias,
			SystemSenders: opts.SystemSenders,
			Logger:        logger.With("component", "state"),
		},
		Composer:    &prompts.Composer{},
		Interpreter: &decision.Interpreter{Model: model, Logger: logger.With("component", "decision")},
		Executor: &Executor{
			Server:  server,
			Ledger:  book,
			Journal: opts.Journal,
			Logger:  logger.With("component", "executor"),
		},
		Logger:           logger.With("component", "runner"),
		Interval:         opts.Interval,
		WaitWithoutPeers: opts.WaitWithoutPeers,
		Cooldown:         opts.Cooldown,
		RequestTimeout:   opts.RequestTimeout,
		Now:              time.Now,
	}
	return r
}

// Run registers the alias and cycles until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	callCtx, cancel := r.callContext(ctx)
	err := r.Server.Register(callCtx)
	cancel()
	if err != nil {
		r.Logger.Error("registration failed", "err", err)
	} else {
		r.Logger.Info("registered", "alias", r.State.Self)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := r.Cycle(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cycle performs one full cycle and returns the delay before the next one.
func (r *Runner) Cycle(ctx context.Context) time.Duration {
	r.cycle++
	r.Logger.Debug("cycle start", "cycle", r.cycle)

	info := r.fetchInfo(ctx)
	people := r.fetchPeople(ctx)
	snap := r.State.Build(info, people, r.Ledger)

	for _, id := range info.Malformed {
		r.Logger.Warn("dropping malformed mail", "id", id)
		r.deleteMail(ctx, id)
	}

	if len(snap.Mailbox) > 0 {
		for _, mail := range snap.Mailbox {
			if ctx.Err() != nil {
				break
			}
			r.handleMail(ctx, snap, mail)
		}
		return r.interval()
	}
	return r.proactive(ctx, snap)
}

func (r *Runner) handleMail(ctx context.Context, snap negotiation.Snapshot, mail butler.Mail) {
	defer r.deleteMail(ctx, mail.ID)

	if snap.IsIgnoredSender(mail.Sender) {
		r.Logger.Debug("ignoring mail", "id", mail.ID, "from", mail.Sender)
		return
	}
	r.Logger.Info("mail", "id", mail.ID, "from", mail.Sender, "subject", mail.Subject)

	view := snap.WithLedger(r.Ledger)
	actions := r.Interpreter.Query(ctx,
		r.Composer.System(view),
		r.Composer.ForMail(mail.Sender, mail.Subject, mail.Body, view),
		prompts.Actions(),
	)
	if action, ok := r.firstValid(actions); ok {
		r.Executor.Execute(ctx, action)
	}
}

func (r *Runner) proactive(ctx context.Context, snap negotiation.Snapshot) time.Duration {
	now := r.now()
	if !r.lastProactive.IsZero() && now.Sub(r.lastProactive) < r.cooldown() {
		r.Logger.Debug("proactive cooldown", "remaining", r.cooldown()-now.Sub(r.lastProactive))
		return r.interval()
	}

	if len(snap.Peers) == 0 {
		r.Executor.Execute(ctx, decision.NoAction("no peers available"))
		return r.waitWithoutPeers()
	}

	if len(snap.Offerable()) == 0 || len(snap.Wanted()) == 0 {
		r.Executor.Execute(ctx, decision.NoAction("no trade to propose"))
		r.lastProactive = r.now()
		return r.interval()
	}

	actions := r.Interpreter.Query(ctx,
		r.Composer.System(snap),
		r.Composer.Proactive(snap),
		prompts.Actions(),
	)
	if action, ok := r.firstValid(actions); ok {
		r.Executor.Execute(ctx, action)
	}
	r.lastProactive = r.now()
	return r.interval()
}

// firstValid returns the first action with a recognized name. Unknown calls
// ahead of it are logged and skipped.
func (r *Runner) firstValid(actions []decision.Action) (decision.Action, bool) {
	for _, action := range actions {
		if action.Kind != decision.KindUnknown {
			return action, true
		}
		r.Logger.Warn("skipping unknown action", "name", action.Name)
	}
	return decision.Action{}, false
}

func (r *Runner) fetchInfo(ctx context.Context) butler.Info {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	info, err := r.Server.Info(callCtx)
	if err != nil {
		r.Logger.Error("info failed", "err", err)
		return butler.Info{}
	}
	return info
}

func (r *Runner) fetchPeople(ctx context.Context) []string {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	people, err := r.Server.People(callCtx)
	if err != nil {
		r.Logger.Error("people failed", "err", err)
		return nil
	}
	return people
}

// deleteMail runs even after cancellation so a handled letter is never
// answered twice.
func (r *Runner) deleteMail(ctx context.Context, id string) {
	if id == "" {
		r.Logger.Warn("mail without id, cannot delete")
		return
	}
	callCtx, cancel := r.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.Server.DeleteMail(callCtx, id); err != nil {
		r.Logger.Error("delete mail failed", "id", id, "err", err)
	}
}

func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return defaultInterval
}

func (r *Runner) waitWithoutPeers() time.Duration {
	if r.WaitWithoutPeers > 0 {
		return r.WaitWithoutPeers
	}
	return defaultWaitNoPeers
}

func (r *Runner) cooldown() time.Duration {
	if r.Cooldown > 0 {
		return r.Cooldown
	}
	return defaultCooldown
}
