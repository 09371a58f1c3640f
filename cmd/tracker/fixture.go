package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/frame"
)

// loadFixture reads one JSON payload per line and returns them framed as the
// node would send them. Blank lines and lines starting with # are skipped.
func loadFixture(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var out []byte
	scan := bufio.NewScanner(bytes.NewReader(data))
	scan.Buffer(make([]byte, 0, 64*1024), 0x10000)
	line := 0
	for scan.Scan() {
		line++
		payload := bytes.TrimSpace(scan.Bytes())
		if len(payload) == 0 || payload[0] == '#' {
			continue
		}
		framed, err := frame.Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, framed...)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan fixture: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fixture %s has no payloads", path)
	}
	return out, nil
}
