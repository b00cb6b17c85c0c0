package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// readRecords decodes a JSON array of paper records.
func readRecords(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records %s: %w", path, err)
	}
	return records, nil
}

// writeRecords writes records as an indented JSON array, replacing path
// only once the whole document is on disk.
func writeRecords(path string, records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// defaultOutputPath derives "<name>_resolved.json" next to the input file.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return input[:len(input)-len(ext)] + "_resolved.json"
}
