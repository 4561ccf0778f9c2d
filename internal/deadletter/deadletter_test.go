package deadletter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

func TestRecord_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deadletter.ndjson")
	h := NewHandler(path)

	for _, id := range []string{"e1", "e2"} {
		evt := event.New("github", event.TypeResourceChanged)
		evt.ID = id
		info := FailureInfo{Route: "r", ErrorCode: "SINK_DELIVERY_FAILED", ErrorMessage: "503"}
		if err := h.Record(evt, info); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var rec struct {
			Info  FailureInfo     `json:"info"`
			Event *event.Envelope `json:"event"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		if rec.Info.Route != "r" || rec.Info.ErrorCode != "SINK_DELIVERY_FAILED" {
			t.Errorf("unexpected info: %+v", rec.Info)
		}
		ids = append(ids, rec.Event.ID)
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Errorf("expected [e1 e2], got %v", ids)
	}
}

func TestRecord_EmptyPathDiscards(t *testing.T) {
	h := NewHandler("")
	evt := event.New("github", event.TypeResourceChanged)
	if err := h.Record(evt, FailureInfo{Route: "r"}); err != nil {
		t.Fatalf("expected discard to succeed, got %v", err)
	}
}
