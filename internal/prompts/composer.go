// Package prompts renders the model instructions for one decision step and
// declares the actions the model is allowed to call.
package prompts

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"butlermarket/agent/internal/negotiation"
)

// Composer builds prompt text from a snapshot. Rand drives the proactive
// pick; a nil Rand is seeded from the clock on first use.
type Composer struct {
	Rand *rand.Rand
}

// System is the standing instruction block for every model call.
func (c *Composer) System(snap negotiation.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a trading agent in a resource exchange game.\n\n", snap.Self)
	fmt.Fprintf(&b, "YOU HAVE: %s\n", snap.Holdings)
	fmt.Fprintf(&b, "YOU NEED: %s\n", snap.Quota)
	fmt.Fprintf(&b, "YOU ARE MISSING: %s\n", snap.Deficit)
	fmt.Fprintf(&b, "YOU HAVE SPARE: %s\n\n", snap.Surplus)

	if len(snap.NeverGive) > 0 {
		fmt.Fprintf(&b, "FORBIDDEN: never give away %s. You have no spare units of them.\n\n",
			strings.Join(snap.NeverGive, ", "))
	}

	if snap.ObjectiveMet {
		fmt.Fprintf(&b, "Your quota is complete. From now on you only collect %s.\n", snap.Gold)
		fmt.Fprintf(&b, "- Accept a trade only if you receive %s.\n", snap.Gold)
		fmt.Fprintf(&b, "- Pay only with spare materials, never with %s.\n", snap.Gold)
		fmt.Fprintf(&b, "- Never send %s to anyone.\n\n", snap.Gold)
	} else {
		b.WriteString("Only accept trades that give you something you are missing.\n")
		b.WriteString("Only pay with materials you have spare.\n\n")
	}

	b.WriteString("WHEN YOU RECEIVE A LETTER:\n")
	b.WriteString("1. If it offers something you want for something you have spare, accept it:\n")
	b.WriteString("   call send_package with your part and set expected_resources to their part.\n")
	b.WriteString("2. If it asks for something you cannot give, reply with send_letter\n")
	b.WriteString("   proposing a different trade, or call no_action.\n")
	b.WriteString("3. If it is not an offer, call no_action.\n\n")

	b.WriteString("RULES:\n")
	b.WriteString("- Trade exactly 1 unit of exactly 1 material for 1 unit of 1 material.\n")
	b.WriteString("- Call exactly one action per turn.\n")
	b.WriteString("- Use real aliases and real material names, never placeholders.\n\n")

	b.WriteString("FORMAT:\n")
	b.WriteString(`- send_letter: {"recipient": "<alias>", "subject": "<text>", "body": "<text>"}` + "\n")
	b.WriteString(`- send_package: {"recipient": "<alias>", "resources": {"<material>": 1}, "expected_resources": {"<material>": 1}}` + "\n")
	b.WriteString(`- no_action: {"reason": "<text>"}` + "\n")

	return b.String()
}

// ForMail is the user prompt for one inbound letter.
func (c *Composer) ForMail(sender, subject, body string, snap negotiation.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You received a letter from %s.\n", sender)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	fmt.Fprintf(&b, "Body: %s\n\n", body)
	fmt.Fprintf(&b, "You want: %s\n", listOrNothing(snap.Wanted()))
	fmt.Fprintf(&b, "You can offer: %s\n\n", listOrNothing(snap.Offerable()))
	fmt.Fprintf(&b, "Decide how to answer %s. Call exactly one action.\n", sender)
	return b.String()
}

// Proactive is the user prompt for outreach when the mailbox is empty. It
// proposes a single 1-for-1 trade with a random peer, or asks for no_action
// when there is nothing to propose.
func (c *Composer) Proactive(snap negotiation.Snapshot) string {
	offer, want, peer, ok := c.Pick(snap)
	if !ok {
		return "There is no trade to propose right now. Call no_action with a short reason.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your mailbox is empty. Start a trade with %s.\n", peer)
	fmt.Fprintf(&b, "Offer 1 %s for 1 %s.\n", offer, want)
	fmt.Fprintf(&b, "Call send_letter with recipient %q and a short offer in the body.\n", peer)
	if snap.ObjectiveMet {
		fmt.Fprintf(&b, "Do not offer %s.\n", snap.Gold)
	}
	return b.String()
}

// Pick chooses one offerable material, one wanted material and one peer,
// each uniformly at random. ok is false when any candidate set is empty.
func (c *Composer) Pick(snap negotiation.Snapshot) (offer, want, peer string, ok bool) {
	offers := snap.Offerable()
	wants := snap.Wanted()
	if len(offers) == 0 || len(wants) == 0 || len(snap.Peers) == 0 {
		return "", "", "", false
	}
	r := c.source()
	return offers[r.Intn(len(offers))], wants[r.Intn(len(wants))], snap.Peers[r.Intn(len(snap.Peers))], true
}

func (c *Composer) source() *rand.Rand {
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c.Rand
}

func listOrNothing(items []string) string {
	if len(items) == 0 {
		return "nothing"
	}
	return strings.Join(items, ", ")
}
