package balance

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads the scanner export: a JSON object keyed by wallet
// address with that wallet's token records as the value. Addresses are
// normalized to lowercase.
func LoadFile(path string) (map[string][]RawRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read balances %s: %w", path, err)
	}
	var parsed map[string][]RawRecord
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse balances %s: %w", path, err)
	}
	out := make(map[string][]RawRecord, len(parsed))
	for addr, records := range parsed {
		out[strings.ToLower(strings.TrimSpace(addr))] = records
	}
	return out, nil
}
