package deposit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads a deposit_data.json file. Any read or decode failure is returned;
// per-entry validation is left to the caller.
func LoadFile(path string) ([]Entry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty deposit data path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open deposit data: %w", err)
	}
	return Decode(data)
}

// Decode parses the JSON array form of deposit data.
func Decode(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse deposit data: %w", err)
	}
	if entries == nil {
		return nil, errors.New("deposit data must be a list")
	}
	return entries, nil
}
