package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mescon/desup/internal/domain"
)

func TestListScans(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]domain.Scan{{ID: "scan-1", Status: domain.ScanComplete}})
	}))
	defer ts.Close()

	c := New(ts.URL, "user-token", 5*time.Second)
	scans, err := c.ListScans(context.Background())
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}

	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/scans" {
		t.Errorf("path = %s", gotPath)
	}
	if len(scans) != 1 || scans[0].ID != "scan-1" {
		t.Errorf("scans = %+v", scans)
	}
}

func TestStartScan_Conflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "A scan is already running for this user"})
	}))
	defer ts.Close()

	c := New(ts.URL, "user-token", time.Second)
	_, err := c.StartScan(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Message == "" {
		t.Error("server message not surfaced")
	}
}

func TestResolveDuplicate_SendsBody(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"message": "success"})
	}))
	defer ts.Close()

	c := New(ts.URL, "user-token", time.Second)
	err := c.ResolveDuplicate(context.Background(), "scan-1", "report.docx", "/Documents/report.docx")
	if err != nil {
		t.Fatalf("ResolveDuplicate: %v", err)
	}

	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s", gotMethod)
	}
	if gotPath != "/api/files/scan-1" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["fileName"] != "report.docx" || gotBody["fileToKeep"] != "/Documents/report.docx" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestResolveDuplicate_PartialFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":       "Some file copies could not be deleted",
			"failedPaths": []string{"/Backup/deck.pptx"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "user-token", time.Second)
	err := c.ResolveDuplicate(context.Background(), "scan-1", "deck.pptx", "/Shared/deck.pptx")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if len(apiErr.FailedPaths) != 1 || apiErr.FailedPaths[0] != "/Backup/deck.pptx" {
		t.Errorf("FailedPaths = %v", apiErr.FailedPaths)
	}
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	c := New(ts.URL, "user-token", time.Second)
	if _, err := c.ListScans(context.Background()); err == nil {
		t.Error("ListScans against closed server returned nil")
	}
}
