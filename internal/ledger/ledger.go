// Package ledger tracks the agent's own holdings against its quotas and
// derives what it still needs and what it can afford to give away.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultGold is the material the Butler server uses as currency.
const DefaultGold = "oro"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBelowQuota        = errors.New("send would drop holdings below quota")
	ErrGoldLocked        = errors.New("gold cannot be given away once the objective is met")
	ErrEmptyPackage      = errors.New("empty package")
)

// Resources maps a material name to a quantity. A missing key means zero.
type Resources map[string]int

func (r Resources) Get(material string) int {
	if v := r[material]; v > 0 {
		return v
	}
	return 0
}

func (r Resources) Clone() Resources {
	out := make(Resources, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Materials returns the keys in lexical order.
func (r Resources) Materials() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders "2 madera, 1 trigo", or "nothing" for an empty map.
func (r Resources) String() string {
	if len(r) == 0 {
		return "nothing"
	}
	parts := make([]string, 0, len(r))
	for _, k := range r.Materials() {
		parts = append(parts, fmt.Sprintf("%d %s", r[k], k))
	}
	return strings.Join(parts, ", ")
}

// Deficit returns, for every material in quota, how many units are still
// missing. Materials already met are omitted.
func Deficit(holdings, quota Resources) Resources {
	out := Resources{}
	for material, target := range quota {
		if missing := target - holdings.Get(material); missing > 0 {
			out[material] = missing
		}
	}
	return out
}

// Surplus returns what exceeds the quota for every held material. The gold
// material is never a quota target, so all of it counts as surplus.
func Surplus(holdings, quota Resources, gold string) Resources {
	out := Resources{}
	for material := range holdings {
		have := holdings.Get(material)
		if material == gold {
			if have > 0 {
				out[material] = have
			}
			continue
		}
		if extra := have - quota.Get(material); extra > 0 {
			out[material] = extra
		}
	}
	return out
}

func ObjectiveMet(holdings, quota Resources) bool {
	return len(Deficit(holdings, quota)) == 0
}

// NeverGive lists, sorted, every known material whose holdings do not
// exceed its quota.
func NeverGive(holdings, quota Resources) []string {
	seen := map[string]struct{}{}
	for k := range holdings {
		seen[k] = struct{}{}
	}
	for k := range quota {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if holdings.Get(k) <= quota.Get(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Ledger is the live, mutable view of the agent's inventory for one cycle.
// It is owned by the runner and is not safe for concurrent use.
type Ledger struct {
	Gold string

	holdings Resources
	quota    Resources
	deficit  Resources
	surplus  Resources
}

func New(gold string) *Ledger {
	if strings.TrimSpace(gold) == "" {
		gold = DefaultGold
	}
	l := &Ledger{Gold: gold}
	l.Reset(nil, nil)
	return l
}

// Reset replaces holdings and quota outright with the server's view.
func (l *Ledger) Reset(holdings, quota Resources) {
	l.holdings = sanitize(holdings)
	l.quota = sanitize(quota)
	l.recompute()
}

func (l *Ledger) Holdings() Resources { return l.holdings.Clone() }
func (l *Ledger) Quota() Resources    { return l.quota.Clone() }
func (l *Ledger) Deficit() Resources  { return l.deficit.Clone() }
func (l *Ledger) Surplus() Resources  { return l.surplus.Clone() }
func (l *Ledger) ObjectiveMet() bool  { return len(l.deficit) == 0 }

func (l *Ledger) NeverGive() []string {
	return NeverGive(l.holdings, l.quota)
}

// CheckSend reports whether pkg can leave the inventory without breaking
// any quota. The whole package is judged; a single bad entry rejects it.
func (l *Ledger) CheckSend(pkg Resources) error {
	if len(pkg) == 0 {
		return ErrEmptyPackage
	}
	for _, material := range pkg.Materials() {
		qty := pkg[material]
		if qty <= 0 {
			return fmt.Errorf("%s: non-positive quantity %d", material, qty)
		}
		have := l.holdings.Get(material)
		if have < qty {
			return fmt.Errorf("%s: have %d, want to send %d: %w", material, have, qty, ErrInsufficientStock)
		}
		if material == l.Gold {
			if l.ObjectiveMet() {
				return fmt.Errorf("%s: %w", material, ErrGoldLocked)
			}
			continue
		}
		if target := l.quota.Get(material); have-qty < target {
			return fmt.Errorf("%s: %d left after send, quota %d: %w", material, have-qty, target, ErrBelowQuota)
		}
	}
	return nil
}

// Deduct removes pkg from holdings, flooring at zero, and recomputes the
// derived maps.
func (l *Ledger) Deduct(pkg Resources) {
	for material, qty := range pkg {
		left := l.holdings.Get(material) - qty
		if left < 0 {
			left = 0
		}
		l.holdings[material] = left
	}
	l.recompute()
}

func (l *Ledger) recompute() {
	l.deficit = Deficit(l.holdings, l.quota)
	l.surplus = Surplus(l.holdings, l.quota, l.Gold)
}

func sanitize(in Resources) Resources {
	out := make(Resources, len(in))
	for k, v := range in {
		if k == "" {
			continue
		}
		if v < 0 {
			v = 0
		}
		out[k] = v
	}
	return out
}
