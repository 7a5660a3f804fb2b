package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Item is one draftable entry from the catalog. Name is the natural key
// within a pool; every other column is carried opaquely in Fields so the
// catalog format can change without touching draft logic.
type Item struct {
	Name     string            `json:"name"`
	Position string            `json:"position,omitempty"`
	Team     string            `json:"team,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

var (
	nameHeaders     = []string{"player name", "name", "item"}
	positionHeaders = []string{"pos", "position", "role"}
	teamHeaders     = []string{"team", "group"}
)

func headerIndex(headers []string, candidates []string) int {
	for i, h := range headers {
		for _, want := range candidates {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	return -1
}

// loadCatalog parses a header-row csv into an ordered item list. The result
// is read-only for the process lifetime and shared across all rooms.
func loadCatalog(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	return parseCatalog(f)
}

func parseCatalog(r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}

	nameIdx := headerIndex(headers, nameHeaders)
	if nameIdx < 0 {
		return nil, fmt.Errorf("catalog header has no name column (looked for %s)", strings.Join(nameHeaders, ", "))
	}
	posIdx := headerIndex(headers, positionHeaders)
	teamIdx := headerIndex(headers, teamHeaders)

	var items []Item
	seen := make(map[string]int)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog line %d: %w", line, err)
		}

		if nameIdx >= len(record) {
			continue
		}

		name := strings.TrimSpace(record[nameIdx])
		if name == "" {
			continue
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate catalog item %q (lines %d and %d)", name, prev, line)
		}
		seen[name] = line

		item := Item{
			Name:   name,
			Fields: make(map[string]string, len(headers)),
		}
		if posIdx >= 0 && posIdx < len(record) {
			item.Position = strings.TrimSpace(record[posIdx])
		}
		if teamIdx >= 0 && teamIdx < len(record) {
			item.Team = strings.TrimSpace(record[teamIdx])
		}
		for i, value := range record {
			if i < len(headers) {
				item.Fields[headers[i]] = value
			}
		}

		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("catalog contains no items")
	}

	return items, nil
}
