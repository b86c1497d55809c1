package history

import (
	"bytes"
	"encoding/json"
	"fmt"

	"sterilization-gateway/internal/models"
)

// envelope covers the response shapes the history endpoints have used.
type envelope struct {
	Events []map[string]any `json:"events"`
	Items  []map[string]any `json:"items"`
	Data   []map[string]any `json:"data"`
	DB     []map[string]any `json:"db"`
	Ledger []map[string]any `json:"ledger"`
	Fabric []map[string]any `json:"fabric"`
}

// Decode parses a history response body. It accepts a bare array, an object
// wrapping the array under events/items/data, or an object with separate db and
// ledger (or fabric) arrays, whose events are tagged with that source when they
// carry none.
func Decode(body []byte) ([]models.HistoryEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []models.HistoryEvent{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode history list: %w", err)
		}
		return NormalizeAll(list), nil
	}

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode history object: %w", err)
	}

	var raw []map[string]any
	raw = append(raw, env.Events...)
	raw = append(raw, env.Items...)
	raw = append(raw, env.Data...)
	raw = append(raw, withSource(env.DB, "DB")...)
	raw = append(raw, withSource(env.Ledger, "LEDGER")...)
	raw = append(raw, withSource(env.Fabric, "FABRIC")...)
	return NormalizeAll(raw), nil
}

// withSource tags entries that carry no source. A null entry becomes an empty
// event of that source.
func withSource(list []map[string]any, source string) []map[string]any {
	for i, ev := range list {
		if ev == nil {
			ev = map[string]any{}
			list[i] = ev
		}
		if pick(ev, sourceKeys) == nil {
			ev["source"] = source
		}
	}
	return list
}
