package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

func TestHealthzHandler(t *testing.T) {
	config := common.NewDefaultConfig()
	handler := NewStatusHandler(config, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.HealthzHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
	if response["environment"] != config.Environment {
		t.Errorf("Expected environment %q, got %v", config.Environment, response["environment"])
	}
	if _, ok := response["uptime"].(string); !ok {
		t.Errorf("Expected uptime string, got %v", response["uptime"])
	}
}

func TestVersionHandler(t *testing.T) {
	handler := NewStatusHandler(common.NewDefaultConfig(), arbor.NewLogger())

	req := httptest.NewRequest("GET", "/version", nil)
	rec := httptest.NewRecorder()

	handler.VersionHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["version"] != common.GetVersion() {
		t.Errorf("Expected version %q, got %v", common.GetVersion(), response["version"])
	}
	if response["build"] != common.GetBuild() {
		t.Errorf("Expected build %q, got %v", common.GetBuild(), response["build"])
	}
	if response["commit"] != common.GetGitCommit() {
		t.Errorf("Expected commit %q, got %v", common.GetGitCommit(), response["commit"])
	}
}

func TestHealthzHandler_MethodValidation(t *testing.T) {
	handler := NewStatusHandler(common.NewDefaultConfig(), arbor.NewLogger())

	req := httptest.NewRequest("POST", "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.HealthzHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}
