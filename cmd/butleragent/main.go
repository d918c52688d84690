package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"butlermarket/agent/internal/butler"
	"butlermarket/agent/internal/config"
	"butlermarket/agent/internal/decision"
	"butlermarket/agent/internal/ledger"
	"butlermarket/agent/internal/llm"
	"butlermarket/agent/internal/logging"
	"butlermarket/agent/internal/negotiation"
	"butlermarket/agent/internal/runtime"
	"butlermarket/agent/internal/store"
)

func main() {
	config.LoadDotEnv()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	commands := map[string]func([]string) error{
		"init":         cmdInit,
		"register":     cmdRegister,
		"run":          cmdRun,
		"status":       cmdStatus,
		"purge":        cmdPurge,
		"send-letter":  cmdSendLetter,
		"send-package": cmdSendPackage,
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(1)
	}
	if err := cmd(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("butleragent init | register | run | status | purge | send-letter | send-package")
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.String("config", "", "config file (default ~/.butleragent/config.yaml)")
	return fs, path
}

func cmdInit(args []string) error {
	fs, path := newFlagSet("init")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	cfgPath := resolvePath(*path, home)
	if _, err := os.Stat(cfgPath); err == nil && !*force {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
	}

	cfg := config.Default(home)
	config.ApplyEnv(&cfg, os.LookupEnv)
	if err := config.Write(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("initialized %s\n", cfgPath)
	fmt.Printf("alias:  %s\n", cfg.Butler.Alias)
	fmt.Printf("server: %s\n", cfg.Butler.Address)
	return nil
}

func cmdRegister(args []string) error {
	fs, path := newFlagSet("register")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	client := butlerClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	if err := client.Register(ctx); err != nil {
		return err
	}
	fmt.Printf("registered %s at %s\n", cfg.Butler.Alias, client.BaseURL)
	return nil
}

func cmdRun(args []string) error {
	fs, path := newFlagSet("run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}

	logger, closer := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxBytes:    cfg.Log.MaxBytes,
		BackupCount: cfg.Log.BackupCount,
	})
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	model, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		TimeoutSeconds:  cfg.LLM.TimeoutSeconds,
	})
	if err != nil {
		return err
	}

	journal, closeJournal := openJournal(cfg, logger)
	defer closeJournal()

	runner := runtime.NewRunner(butlerClient(cfg), model, runtime.Options{
		Alias:            cfg.Butler.Alias,
		Gold:             cfg.Agent.GoldMaterial,
		SystemSenders:    cfg.Butler.SystemSenders,
		Interval:         seconds(cfg.Agent.CycleSeconds),
		WaitWithoutPeers: seconds(cfg.Agent.WaitWithoutPeersSeconds),
		Cooldown:         seconds(cfg.Agent.ProactiveCooldownSeconds),
		RequestTimeout:   requestTimeout(cfg),
		Journal:          journal,
		Logger:           logger,
	})
	logger.Info("agent running",
		"alias", cfg.Butler.Alias,
		"server", cfg.Butler.Address,
		"llm", model.Provider()+"/"+model.Model(),
	)
	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("agent stopped")
		return nil
	}
	return err
}

func cmdStatus(args []string) error {
	fs, path := newFlagSet("status")
	limit := fs.Int("recent", 10, "journal entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}

	client := butlerClient(cfg)
	book := ledger.New(cfg.Agent.GoldMaterial)
	snap, err := fetchSnapshot(client, cfg, book)
	if err != nil {
		return err
	}

	fmt.Printf("agent %s\n", snap.Self)
	fmt.Printf("  holdings: %s\n", snap.Holdings)
	fmt.Printf("  quota:    %s\n", snap.Quota)
	fmt.Printf("  deficit:  %s\n", snap.Deficit)
	fmt.Printf("  surplus:  %s\n", snap.Surplus)
	fmt.Printf("  objective met: %t\n", snap.ObjectiveMet)
	fmt.Printf("  peers: %s\n", strings.Join(snap.Peers, ", "))
	fmt.Printf("  mail:  %d\n", len(snap.Mailbox))

	if strings.TrimSpace(cfg.Store.Path) == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		return nil
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	stats, err := st.PeerStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) > 0 {
		fmt.Println("peers")
		for _, p := range stats {
			fmt.Printf("  %-16s letters=%d packages=%d rejections=%d score=%.1f\n",
				p.Peer, p.Letters, p.Packages, p.Rejections, p.Score)
		}
	}
	recent, err := st.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("recent")
		for _, e := range recent {
			line := fmt.Sprintf("  %s %-12s %-8s %s", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Status, e.Peer)
			if len(e.Resources) > 0 {
				line += " " + ledger.Resources(e.Resources).String()
			}
			if e.Error != "" {
				line += " (" + e.Error + ")"
			}
			fmt.Println(line)
		}
	}
	return nil
}

func cmdPurge(args []string) error {
	fs, path := newFlagSet("purge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	client := butlerClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	info, err := client.Info(ctx)
	cancel()
	if err != nil {
		return err
	}

	ids := info.Malformed
	for _, mail := range info.Mailbox {
		ids = append(ids, mail.ID)
	}
	deleted := 0
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
		err := client.DeleteMail(ctx, id)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "delete %s: %v\n", id, err)
			continue
		}
		deleted++
	}
	fmt.Printf("deleted %d of %d letters\n", deleted, len(ids))
	return nil
}

func cmdSendLetter(args []string) error {
	fs, path := newFlagSet("send-letter")
	to := fs.String("to", "", "recipient alias")
	subject := fs.String("subject", "", "letter subject")
	body := fs.String("body", "", "letter body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	return manualAction(cfg, decision.Action{
		Kind:      decision.KindSendLetter,
		Name:      string(decision.KindSendLetter),
		Recipient: *to,
		Subject:   *subject,
		Body:      *body,
	}, false)
}

func cmdSendPackage(args []string) error {
	fs, path := newFlagSet("send-package")
	to := fs.String("to", "", "recipient alias")
	res := fs.StringToInt("res", nil, "resources to send, e.g. --res madera=1")
	expect := fs.StringToInt("expect", nil, "resources expected in return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	return manualAction(cfg, decision.Action{
		Kind:      decision.KindSendPackage,
		Name:      string(decision.KindSendPackage),
		Recipient: *to,
		Resources: toAny(*res),
		Expected:  toAny(*expect),
	}, true)
}

// manualAction runs an operator action through the same executor the agent
// uses, so packages pass the ledger safety check.
func manualAction(cfg config.Config, action decision.Action, needsLedger bool) error {
	logger, closer := logging.New(logging.Options{Level: cfg.Log.Level})
	defer closer.Close()

	client := butlerClient(cfg)
	book := ledger.New(cfg.Agent.GoldMaterial)
	if needsLedger {
		if _, err := fetchSnapshot(client, cfg, book); err != nil {
			return err
		}
	}

	journal, closeJournal := openJournal(cfg, logger)
	defer closeJournal()

	exec := &runtime.Executor{Server: client, Ledger: book, Journal: journal, Logger: logger}
	ctx, cancel := context.WithTimeout(context.Background(), 2*requestTimeout(cfg))
	defer cancel()
	outcome := exec.Execute(ctx, action)
	if outcome.Err != nil {
		return outcome.Err
	}
	fmt.Printf("%s %s\n", outcome.Kind, outcome.Status)
	return nil
}

func fetchSnapshot(client *butler.Client, cfg config.Config, book *ledger.Ledger) (negotiation.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()
	info, err := client.Info(ctx)
	if err != nil {
		return negotiation.Snapshot{}, err
	}
	people, err := client.People(ctx)
	if err != nil {
		return negotiation.Snapshot{}, err
	}
	builder := negotiation.Builder{
		Self:          cfg.Butler.Alias,
		SystemSenders: cfg.Butler.SystemSenders,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return builder.Build(info, people, book), nil
}

func openJournal(cfg config.Config, logger *slog.Logger) (runtime.Journal, func()) {
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return nil, func() {}
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn("journal disabled", "path", cfg.Store.Path, "err", err)
		return nil, func() {}
	}
	return st, func() { _ = st.Close() }
}

func butlerClient(cfg config.Config) *butler.Client {
	return butler.New(cfg.Butler.Address, cfg.Butler.Alias, requestTimeout(cfg))
}

func loadConfig(path string) (config.Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(resolvePath(path, home), home)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnv(&cfg, os.LookupEnv)
	if strings.TrimSpace(cfg.Butler.Alias) == "" {
		return config.Config{}, fmt.Errorf("alias is required")
	}
	return cfg, nil
}

func resolvePath(path, home string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return config.Path(home)
}

func requestTimeout(cfg config.Config) time.Duration {
	if d := seconds(cfg.Butler.RequestTimeoutSeconds); d > 0 {
		return d
	}
	return 10 * time.Second
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func toAny(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
