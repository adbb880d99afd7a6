package feedback

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileStoreAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs := NewFileStore(path)

	for i, rec := range []Record{
		{SessionID: "s-1", Language: "es-ES", Rating: 5, Comments: "great"},
		{SessionID: "s-2", Rating: 2},
	} {
		if err := fs.Save(rec); err != nil {
			t.Fatalf("Save() record %d = %v", i, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open store file: %v", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].SessionID != "s-1" || records[0].Rating != 5 {
		t.Errorf("first record = %+v", records[0])
	}
	if records[0].Timestamp.IsZero() {
		t.Error("Save should fill in a zero timestamp")
	}
	if records[1].SessionID != "s-2" {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs := NewFileStore(path)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fs.Save(Record{SessionID: "s", Rating: 3}); err != nil {
				t.Errorf("Save() = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 10 {
		t.Fatalf("got %d lines, want 10", got)
	}
}

func TestHandlerStoresSubmission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs := NewFileStore(path)

	body := `{"sessionId":"s-1","language":"fr-FR","rating":4,"comments":"helpful"}`
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(body))
	rr := httptest.NewRecorder()

	Handler(fs).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rr.Code, rr.Body)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal stored record: %v", err)
	}
	if rec.Language != "fr-FR" || rec.Rating != 4 {
		t.Errorf("stored record = %+v", rec)
	}
}

func TestHandlerRejectsBadSubmissions(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown field", `{"rating":3,"bogus":true}`},
		{"rating too low", `{"rating":0}`},
		{"rating too high", `{"rating":6}`},
	}

	fs := NewFileStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			Handler(fs).ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}
