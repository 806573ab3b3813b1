package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatusAndBytes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantLevel string
	}{
		{name: "implicit ok", body: "hello", wantLevel: "INFO"},
		{name: "not found", status: http.StatusNotFound, body: "{}", wantLevel: "WARN"},
		{name: "server error", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := WithRequestLog("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.status != 0 {
				w.WriteHeader(tc.status)
			}
			_, _ = w.Write([]byte(tc.body))
		}))
		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		req = req.WithContext(ContextWithLogger(req.Context(), logger))
		h.ServeHTTP(httptest.NewRecorder(), req)

		var entry struct {
			Level   string `json:"level"`
			Msg     string `json:"msg"`
			Service string `json:"service"`
			Path    string `json:"path"`
			Status  int    `json:"status"`
			Bytes   int64  `json:"bytes"`
		}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("%s: decode log line %q: %v", tc.name, buf.String(), err)
		}
		wantStatus := tc.status
		if wantStatus == 0 {
			wantStatus = http.StatusOK
		}
		if entry.Msg != "http_request" || entry.Service != "test" || entry.Path != "/images" {
			t.Fatalf("%s: unexpected entry %+v", tc.name, entry)
		}
		if entry.Status != wantStatus || entry.Bytes != int64(len(tc.body)) || entry.Level != tc.wantLevel {
			t.Fatalf("%s: got status=%d bytes=%d level=%s", tc.name, entry.Status, entry.Bytes, entry.Level)
		}
	}
}
