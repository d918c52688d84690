package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"butlermarket/agent/internal/decision"
	"butlermarket/agent/internal/ledger"
	"butlermarket/agent/internal/store"
)

var (
	ErrPlaceholder  = errors.New("placeholder text")
	ErrNoRecipient  = errors.New("no recipient")
	ErrEmptyText    = errors.New("empty text")
	ErrNotAMap      = errors.New("resources are not a map")
	ErrEmptyPackage = ledger.ErrEmptyPackage
	ErrUnknown      = errors.New("unknown action")
)

const (
	StatusExecuted = "executed"
	StatusRejected = "rejected"
	StatusNoop     = "noop"
	StatusDropped  = "dropped"
)

const (
	confirmationSubject = "Package sent - awaiting your part"
)

// Sender is the part of the game server the executor writes to.
type Sender interface {
	SendLetter(ctx context.Context, recipient, subject, body string) error
	SendPackage(ctx context.Context, recipient string, resources ledger.Resources) error
}

type Journal interface {
	Record(ctx context.Context, e store.Entry) error
}

type Outcome struct {
	Kind   decision.Kind
	Status string
	Err    error
}

// Executor validates one action against the ledger and performs it. It is
// the only component that mutates holdings between server refreshes.
type Executor struct {
	Server  Sender
	Ledger  *ledger.Ledger
	Journal Journal
	Logger  *slog.Logger
}

func (e *Executor) Execute(ctx context.Context, action decision.Action) Outcome {
	var (
		outcome  Outcome
		pkg      ledger.Resources
		expected ledger.Resources
	)
	switch action.Kind {
	case decision.KindNoAction:
		e.logger().Info("no action", "reason", action.Reason)
		outcome = Outcome{Kind: action.Kind, Status: StatusNoop}
	case decision.KindSendLetter:
		outcome = e.sendLetter(ctx, action)
	case decision.KindSendPackage:
		outcome, pkg, expected = e.sendPackage(ctx, action)
	default:
		e.logger().Warn("dropping unknown action", "name", action.Name)
		outcome = Outcome{Kind: decision.KindUnknown, Status: StatusDropped, Err: fmt.Errorf("%w: %q", ErrUnknown, action.Name)}
	}
	e.journal(ctx, action, outcome, pkg, expected)
	return outcome
}

func (e *Executor) sendLetter(ctx context.Context, action decision.Action) Outcome {
	fields := []struct {
		name  string
		value string
	}{
		{"recipient", action.Recipient},
		{"subject", action.Subject},
		{"body", action.Body},
	}
	for _, field := range fields {
		err := checkText(field.value)
		if errors.Is(err, ErrEmptyText) && field.name == "recipient" {
			err = ErrNoRecipient
		}
		if err != nil {
			e.logger().Warn("letter rejected", "field", field.name, "value", field.value, "err", err)
			return Outcome{Kind: action.Kind, Status: StatusRejected, Err: fmt.Errorf("%s: %w", field.name, err)}
		}
	}

	recipient := strings.TrimSpace(action.Recipient)
	if err := e.Server.SendLetter(ctx, recipient, strings.TrimSpace(action.Subject), strings.TrimSpace(action.Body)); err != nil {
		e.logger().Error("letter failed", "to", recipient, "err", err)
		return Outcome{Kind: action.Kind, Status: StatusRejected, Err: err}
	}
	e.logger().Info("letter sent", "to", recipient, "subject", strings.TrimSpace(action.Subject))
	return Outcome{Kind: action.Kind, Status: StatusExecuted}
}

func (e *Executor) sendPackage(ctx context.Context, action decision.Action) (Outcome, ledger.Resources, ledger.Resources) {
	reject := func(err error, pkg ledger.Resources) (Outcome, ledger.Resources, ledger.Resources) {
		e.logger().Warn("package rejected", "to", action.Recipient, "resources", pkg, "err", err)
		return Outcome{Kind: action.Kind, Status: StatusRejected, Err: err}, pkg, nil
	}

	recipient := strings.TrimSpace(action.Recipient)
	if err := checkText(recipient); err != nil {
		if errors.Is(err, ErrPlaceholder) {
			return reject(fmt.Errorf("recipient: %w", err), nil)
		}
		return reject(ErrNoRecipient, nil)
	}

	pkg, err := NormalizeResources(action.Resources)
	if err != nil {
		return reject(err, nil)
	}
	if e.Ledger == nil {
		return reject(errors.New("no ledger"), pkg)
	}
	if err := e.Ledger.CheckSend(pkg); err != nil {
		return reject(err, pkg)
	}

	if err := e.Server.SendPackage(ctx, recipient, pkg); err != nil {
		e.logger().Error("package failed", "to", recipient, "resources", pkg, "err", err)
		return Outcome{Kind: action.Kind, Status: StatusRejected, Err: err}, pkg, nil
	}
	e.Ledger.Deduct(pkg)
	e.logger().Info("package sent", "to", recipient, "resources", pkg, "holdings", e.Ledger.Holdings())

	expected, _ := NormalizeResources(action.Expected)
	if err := e.Server.SendLetter(ctx, recipient, confirmationSubject, confirmationBody(pkg, expected)); err != nil {
		e.logger().Warn("confirmation letter failed", "to", recipient, "err", err)
	}
	return Outcome{Kind: action.Kind, Status: StatusExecuted}, pkg, expected
}

func (e *Executor) journal(ctx context.Context, action decision.Action, outcome Outcome, pkg, expected ledger.Resources) {
	if e.Journal == nil {
		return
	}
	entry := store.Entry{
		Kind:      string(outcome.Kind),
		Peer:      strings.TrimSpace(action.Recipient),
		Resources: pkg,
		Expected:  expected,
		Status:    outcome.Status,
		Reason:    action.Reason,
	}
	if action.Kind == decision.KindSendLetter {
		entry.Reason = action.Subject
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	if err := e.Journal.Record(ctx, entry); err != nil {
		e.logger().Warn("journal write failed", "err", err)
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func confirmationBody(sent, expected ledger.Resources) string {
	if len(expected) > 0 {
		return fmt.Sprintf("I have sent you %s. I expect %s in return.", sent, expected)
	}
	return fmt.Sprintf("I have sent you %s as agreed. Please send your part.", sent)
}

var placeholders = map[string]struct{}{
	"string": {}, "text": {}, "texto": {}, "asunto": {}, "cuerpo": {}, "mensaje": {},
	"subject": {}, "body": {}, "message": {}, "recipient": {},
	"alias": {}, "<alias>": {}, "<text>": {}, "<material>": {},
}

// checkText rejects empty text and schema words echoed back as values.
func checkText(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyText
	}
	if _, ok := placeholders[strings.ToLower(value)]; ok {
		return fmt.Errorf("%w %q", ErrPlaceholder, value)
	}
	return nil
}

// NormalizeResources turns a raw resources argument into a package. Digit
// strings and integral floats are accepted; anything else, and any
// non-positive quantity, is dropped. A string holding a JSON object is
// decoded first.
func NormalizeResources(raw any) (ledger.Resources, error) {
	if text, ok := raw.(string); ok {
		var decoded any
		if err := json.Unmarshal(jsonc.ToJSON([]byte(strings.TrimSpace(text))), &decoded); err != nil {
			return nil, ErrNotAMap
		}
		raw = decoded
	}

	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	out := ledger.Resources{}
	for material, value := range entries {
		material = strings.TrimSpace(material)
		if material == "" {
			continue
		}
		if qty, ok := quantity(value); ok && qty > 0 {
			out[material] += qty
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyPackage
	}
	return out, nil
}

func quantity(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, false
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
