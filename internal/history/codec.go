package history

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSON writes histories as a list of single-key objects mapping each ID to
// its events: [{"# S1": [...]}, {"# S2": [...]}].
func WriteJSON(w io.Writer, histories []History) error {
	out := make([]map[string][]ChangeEvent, 0, len(histories))
	for _, h := range histories {
		out = append(out, map[string][]ChangeEvent{h.ID: h.Events})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding histories: %w", err)
	}
	return nil
}

// ReadJSON reads the format written by WriteJSON, preserving order.
func ReadJSON(r io.Reader) ([]History, error) {
	var raw []map[string][]ChangeEvent
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding histories: %w", err)
	}

	histories := make([]History, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return nil, fmt.Errorf("history entry %d has %d keys, want 1", i, len(entry))
		}
		for id, events := range entry {
			histories = append(histories, History{ID: id, Events: events})
		}
	}
	return histories, nil
}
