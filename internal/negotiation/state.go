// Package negotiation combines the ledger, mailbox and peer roster into the
// snapshot that prompts are built from and actions are checked against.
package negotiation

import (
	"log/slog"
	"strings"

	"butlermarket/agent/internal/butler"
	"butlermarket/agent/internal/ledger"
)

// Snapshot is a read-only view of one decision step. Maps are copies; callers
// may not use them to mutate the ledger.
type Snapshot struct {
	Self         string
	Gold         string
	Holdings     ledger.Resources
	Quota        ledger.Resources
	Deficit      ledger.Resources
	Surplus      ledger.Resources
	ObjectiveMet bool
	NeverGive    []string
	Peers        []string
	Mailbox      []butler.Mail

	systemSenders map[string]struct{}
}

// Builder holds what stays constant across cycles.
type Builder struct {
	Self          string
	SystemSenders []string
	Logger        *slog.Logger
}

// Build resets book to the server's view and returns the cycle snapshot.
// It never fails; an empty Info yields an empty snapshot.
func (b Builder) Build(info butler.Info, people []string, book *ledger.Ledger) Snapshot {
	book.Reset(info.Holdings, info.Quota)

	snap := Snapshot{
		Self:          b.Self,
		Peers:         filterPeers(people, b.Self),
		Mailbox:       append([]butler.Mail(nil), info.Mailbox...),
		systemSenders: map[string]struct{}{},
	}
	for _, sender := range b.SystemSenders {
		if sender = strings.TrimSpace(sender); sender != "" {
			snap.systemSenders[sender] = struct{}{}
		}
	}
	snap = snap.WithLedger(book)

	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if snap.ObjectiveMet {
		logger.Info("objective met, gold acquisition mode active")
	}
	logger.Info("state",
		"holdings", snap.Holdings.String(),
		"quota", snap.Quota.String(),
		"deficit", snap.Deficit.String(),
		"surplus", snap.Surplus.String(),
		"peers", strings.Join(snap.Peers, ","),
		"mail", len(snap.Mailbox),
		"objective_met", snap.ObjectiveMet,
	)
	return snap
}

// BuildRaw parses untrusted /info and /gente bodies and builds from them.
func (b Builder) BuildRaw(rawInfo, rawPeople []byte, book *ledger.Ledger) Snapshot {
	return b.Build(butler.ParseInfo(rawInfo), butler.ParsePeople(rawPeople), book)
}

// WithLedger returns a copy refreshed from the live ledger, so later mail in
// the same cycle sees stock already committed by earlier mail.
func (s Snapshot) WithLedger(book *ledger.Ledger) Snapshot {
	s.Gold = book.Gold
	s.Holdings = book.Holdings()
	s.Quota = book.Quota()
	s.Deficit = book.Deficit()
	s.Surplus = book.Surplus()
	s.ObjectiveMet = book.ObjectiveMet()
	s.NeverGive = book.NeverGive()
	return s
}

// IsIgnoredSender reports mail that must never reach the model: our own
// letters and server notices.
func (s Snapshot) IsIgnoredSender(sender string) bool {
	sender = strings.TrimSpace(sender)
	if sender == "" || sender == s.Self {
		return true
	}
	_, ok := s.systemSenders[sender]
	return ok
}

// Offerable is the surplus the agent may put on the table. Once the
// objective is met gold is only ever received.
func (s Snapshot) Offerable() []string {
	out := make([]string, 0, len(s.Surplus))
	for _, material := range s.Surplus.Materials() {
		if s.ObjectiveMet && material == s.Gold {
			continue
		}
		out = append(out, material)
	}
	return out
}

// Wanted is what the agent asks for in return: the deficit, or gold alone
// once the objective is met.
func (s Snapshot) Wanted() []string {
	if s.ObjectiveMet {
		return []string{s.Gold}
	}
	return s.Deficit.Materials()
}

func filterPeers(people []string, self string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(people))
	for _, alias := range people {
		alias = strings.TrimSpace(alias)
		if alias == "" || alias == self {
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}
