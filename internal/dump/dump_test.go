package dump

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

func TestFileName(t *testing.T) {
	start := time.Date(2024, 3, 9, 14, 5, 7, 123000000, time.UTC)
	if got, want := FileName(start), "hub-2024-03-09T14-05-07-123Z.log"; got != want {
		t.Errorf("FileName = %q, want %q", got, want)
	}
}

func TestSinkWritesJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dumps")
	s, err := Open(dir, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	s.Record("target→hub", protocol.PhaseConfiguration, "registry_data", []byte{0x05, 0xab})
	s.Record("downstream→hub", protocol.PhasePlay, "chat_message", nil)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	s.Record("target→hub", protocol.PhasePlay, "dropped", []byte{1})

	f, err := os.Open(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	type line struct {
		TS        string `json:"ts"`
		Direction string `json:"direction"`
		State     string `json:"state"`
		Name      string `json:"name"`
		Size      int    `json:"size"`
		Hex       string `json:"hex"`
	}
	var lines []line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}

	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	first := lines[0]
	if first.Direction != "target→hub" || first.State != "configuration" || first.Name != "registry_data" {
		t.Errorf("first line = %+v", first)
	}
	if first.Size != 2 || first.Hex != "05ab" {
		t.Errorf("size/hex = %d/%q", first.Size, first.Hex)
	}
	if _, err := time.Parse(time.RFC3339Nano, first.TS); err != nil {
		t.Errorf("ts %q: %v", first.TS, err)
	}
	if lines[1].Size != 0 || lines[1].Hex != "" {
		t.Errorf("empty packet line = %+v", lines[1])
	}
}
