package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/metrics"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(kind string) Entry {
	return Entry{
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		ID:         "e-test123",
		Kind:       kind,
		Severity:   "danger",
		Text:       "Blocked local port scan: http://127.0.0.1:8080/",
		ConfigHash: "sha256:abc123",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry("alert")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
	if result.Kinds["alert"] != 5 {
		t.Errorf("expected 5 alerts counted, got %v", result.Kinds)
	}
}

func TestVerifyReportsUnparsableLine(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry("detection"))
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected parse failure at line 2, got %+v", result)
	}
	if result.Broken != nil {
		t.Errorf("expected no broken entry for unparsable line, got %+v", result.Broken)
	}
	if result.Kinds["detection"] != 1 {
		t.Errorf("expected 1 detection counted, got %v", result.Kinds)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("alert")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Tamper: change kind in line 2
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"alert"`, `"toast"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
	if result.Broken == nil || result.Broken.Kind != "alert" {
		t.Errorf("expected broken alert entry reported, got %+v", result.Broken)
	}
	if result.Kinds["alert"] != 1 || result.Kinds["toast"] != 1 {
		t.Errorf("expected kinds counted up to the break, got %v", result.Kinds)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("alert")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Delete line 2 (middle entry)
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	remaining := []string{lines[0], lines[2]}
	os.WriteFile(path, []byte(strings.Join(remaining, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("alert")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	// Insert a fabricated entry between lines 1 and 2
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	fake := testEntry("toast")
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	inserted := []string{lines[0], string(fakeJSON), lines[1], lines[2]}
	os.WriteFile(path, []byte(strings.Join(inserted, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0644)

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected empty log to be valid, got: %s", result.Error)
	}
	if result.Lines != 0 {
		t.Fatalf("expected 0 lines, got %d", result.Lines)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry("alert"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry("alert"))
	l.Close()

	data, _ := os.ReadFile(path)
	var entry Entry
	json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry)

	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"ts":"2025-01-15T10:30:00.000Z","id":"e-abc","kind":"alert","severity":"danger","text":"Blocked redirect-to-localhost attack!","prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	h2 := HashLine(line)
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", h1)
	}
	if len(h1) != 7+64 { // "sha256:" + 64 hex chars
		t.Fatalf("expected 71 char hash string, got %d", len(h1))
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	// Write 3 entries, close
	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l1.Record(testEntry("alert"))
	}
	l1.Close()

	// Reopen and write 2 more
	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		l2.Record(testEntry("toast"))
	}
	l2.Close()

	// Verify entire chain
	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after reopen, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerify10KEntriesUnder1Second(t *testing.T) {
	l, path := newTestLog(t)

	entry := testEntry("alert")
	for i := 0; i < 10000; i++ {
		if err := l.Record(entry); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	start := time.Now()
	result := Verify(path)
	elapsed := time.Since(start)

	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 10000 {
		t.Fatalf("expected 10000 lines, got %d", result.Lines)
	}
	if elapsed > time.Second {
		t.Fatalf("verification took %v, expected < 1s", elapsed)
	}
}

func TestSinkJournalsEveryNotice(t *testing.T) {
	l, path := newTestLog(t)
	s := NewSink(l, zerolog.Nop(), func() string { return "sha256:cfg" }, nil)

	s.Alert(alert.SeverityDanger, "Blocked local port scan: http://10.0.0.1/")
	s.Toast(alert.SeverityDanger, "Local Port Scan Blocked")
	s.LogDetection("local-probe", "http://10.0.0.1/ (private network, blocked)")
	s.Close()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 3 {
		t.Fatalf("expected 3 valid lines, got %+v", result)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var last Entry
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Kind != "detection" || last.Category != "local-probe" {
		t.Errorf("unexpected entry %+v", last)
	}
	if last.ConfigHash != "sha256:cfg" {
		t.Errorf("expected config hash stamp, got %q", last.ConfigHash)
	}
	if last.ID == "" || last.Timestamp == "" {
		t.Errorf("expected id and timestamp, got %+v", last)
	}
}

func TestSinkSurvivesClosedLog(t *testing.T) {
	l, _ := newTestLog(t)
	l.Close()
	s := NewSink(l, zerolog.Nop(), nil, nil)
	// Must not panic.
	s.Alert(alert.SeverityWarning, "after close")
	s.Close()
}

func TestSinkDoesNotBlockOnStalledWriter(t *testing.T) {
	l, path := newTestLog(t)
	m := metrics.New()
	s := newSink(l, zerolog.Nop(), nil, m, 2)

	// Hold the journal lock so the writer goroutine stalls inside Record.
	l.mu.Lock()

	const sent = 10
	done := make(chan struct{})
	go func() {
		for i := 0; i < sent; i++ {
			s.LogDetection("label:server", "key.minimap")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		l.mu.Unlock()
		t.Fatal("LogDetection blocked on a stalled writer")
	}

	dropped := s.Dropped()
	// Two queued plus at most one held by the stalled writer.
	if dropped < sent-3 || dropped > sent-2 {
		t.Errorf("expected 7 or 8 dropped, got %d", dropped)
	}
	if got := testutil.ToFloat64(m.JournalDropped); got != float64(dropped) {
		t.Errorf("expected metric %d, got %v", dropped, got)
	}

	l.mu.Unlock()
	s.Close()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got %s", result.Error)
	}
	if int64(result.Lines) != sent-dropped {
		t.Errorf("expected %d lines, got %d", sent-dropped, result.Lines)
	}
}

func TestSinkDropsAfterClose(t *testing.T) {
	l, path := newTestLog(t)
	s := NewSink(l, zerolog.Nop(), nil, nil)
	s.Toast(alert.SeverityInfo, "before")
	s.Close()
	s.Close()
	s.Toast(alert.SeverityInfo, "after")
	l.Close()

	if s.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", s.Dropped())
	}
	if result := Verify(path); result.Lines != 1 {
		t.Errorf("expected 1 line, got %d", result.Lines)
	}
}
