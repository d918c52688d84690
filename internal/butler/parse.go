package butler

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"butlermarket/agent/internal/ledger"
)

// Info is the parsed /info payload.
type Info struct {
	Holdings  ledger.Resources
	Quota     ledger.Resources
	Mailbox   []Mail
	// Malformed holds the keys of mailbox entries that are not letters.
	Malformed []string
}

// Mail is one mailbox entry. ID is the mailbox key, which is what
// DELETE /mail expects.
type Mail struct {
	ID        string
	Sender    string
	Recipient string
	Subject   string
	Body      string
	Date      string
}

// ParseInfo never fails: any field with an unexpected shape becomes empty.
func ParseInfo(raw []byte) Info {
	info := Info{Holdings: ledger.Resources{}, Quota: ledger.Resources{}}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return info
	}
	info.Holdings = ParseResources(fields["Recursos"])
	info.Quota = ParseResources(fields["Objetivo"])
	info.Mailbox, info.Malformed = ParseMailbox(fields["Buzon"])
	return info
}

// ParseResources keeps entries whose value is a non-negative integer.
func ParseResources(raw json.RawMessage) ledger.Resources {
	out := ledger.Resources{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}
	for material, value := range fields {
		if material == "" {
			continue
		}
		n, ok := integerValue(value)
		if !ok || n < 0 {
			continue
		}
		out[material] = n
	}
	return out
}

// ParseMailbox keeps the server's key order so mail is handled in the
// order the server lists it. Keys whose value is not an object are returned
// separately so the caller can delete them.
func ParseMailbox(raw json.RawMessage) (mail []Mail, malformed []string) {
	keys, values, ok := orderedObject(raw)
	if !ok {
		return nil, nil
	}
	out := make([]Mail, 0, len(keys))
	for i, key := range keys {
		if key == "" {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(values[i], &fields); err != nil || fields == nil {
			malformed = append(malformed, key)
			continue
		}
		out = append(out, Mail{
			ID:        key,
			Sender:    textValue(fields["remi"]),
			Recipient: textValue(fields["dest"]),
			Subject:   textValue(fields["asunto"]),
			Body:      textValue(fields["cuerpo"]),
			Date:      textValue(fields["fecha"]),
		})
	}
	return out, malformed
}

// ParsePeople accepts a list of aliases or of objects with an "alias"
// field. Anything else is skipped.
func ParsePeople(raw []byte) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var alias string
		if err := json.Unmarshal(item, &alias); err == nil {
			out = append(out, alias)
			continue
		}
		var entry struct {
			Alias *string `json:"alias"`
		}
		if err := json.Unmarshal(item, &entry); err == nil && entry.Alias != nil {
			out = append(out, *entry.Alias)
		}
	}
	return out
}

func integerValue(raw json.RawMessage) (int, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(num.String()); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func orderedObject(raw json.RawMessage) ([]string, []json.RawMessage, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, false
	}
	var keys []string
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, false
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	return keys, values, true
}
