package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of walking a journal's hash chain.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Kinds     map[string]int `json:"kinds,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
	// Broken identifies the first entry whose link failed, when it parsed.
	Broken *Entry `json:"broken,omitempty"`
}

// Verify walks the journal at path. Entries are counted per kind up to the
// first broken link, which is reported with its line and, when it parsed,
// the entry itself.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Kinds: make(map[string]int)}
	want := GenesisHash
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		res.Lines++

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return res.fail(fmt.Sprintf("parse error: %v", err), nil)
		}
		if e.PrevHash != want {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", want, e.PrevHash)
			if res.Lines == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return res.fail(msg, &e)
		}

		res.Kinds[e.Kind]++
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	return res
}

func (r VerifyResult) fail(msg string, broken *Entry) VerifyResult {
	r.Error = msg
	r.ErrorLine = r.Lines
	r.Broken = broken
	return r
}
