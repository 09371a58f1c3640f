package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/testutil"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"json error", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusTeapot, "short and stout") }, http.StatusTeapot, "short and stout"},
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad id") }, http.StatusBadRequest, "bad id"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "unknown device") }, http.StatusNotFound, "unknown device"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "not connected") }, http.StatusConflict, "not connected"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "no store") }, http.StatusServiceUnavailable, "no store"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tc.write(rec)

			testutil.AssertStatusCode(t, rec.Code, tc.status)
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tc.msg {
				t.Errorf("error = %q, want %q", resp["error"], tc.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"devices": 2})

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["devices"] != 2 {
		t.Errorf("devices = %d, want 2", resp["devices"])
	}
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, make(chan int))

	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
}
