/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the control socket handler
 */

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Test ctrlsockHandler serves /status on GET
func TestCtrlsockHandlerStatus(t *testing.T) {
	resetStatus(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()

	ctrlsockHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ctrlsockHandler: expected %d, got %d", http.StatusOK, rec.Code)
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "text/plain; charset=utf-8" {
		t.Errorf("ctrlsockHandler: unexpected Content-Type %q", ct)
	}
}

// Test ctrlsockHandler rejects unknown paths
func TestCtrlsockHandlerNotFound(t *testing.T) {
	req := httptest.NewRequest("GET", "/nosuchpath", nil)
	rec := httptest.NewRecorder()

	ctrlsockHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("ctrlsockHandler: expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

// Test ctrlsockHandler rejects non-GET methods
func TestCtrlsockHandlerMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest("POST", "/status", nil)
	rec := httptest.NewRecorder()

	ctrlsockHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("ctrlsockHandler: expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
