package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeleteItem_Success(t *testing.T) {
	var gotPath, gotAuth, gotMethod string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewGraphDriveClient(ts.URL, 5*time.Second)
	if err := c.DeleteItem(context.Background(), "cred", "item-42"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s", gotMethod)
	}
	if gotPath != "/v1.0/me/drive/items/item-42" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer cred" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestDeleteItem_NotFoundIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewGraphDriveClient(ts.URL, time.Second)
	if err := c.DeleteItem(context.Background(), "cred", "already-gone"); err != nil {
		t.Errorf("DeleteItem on missing item: %v, want nil", err)
	}
}

func TestDeleteItem_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := NewGraphDriveClient(ts.URL, time.Second)
	if err := c.DeleteItem(context.Background(), "cred", "item-1"); err == nil {
		t.Error("DeleteItem on 403 returned nil, want error")
	}
}

func TestDeleteItem_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	c := NewGraphDriveClient(ts.URL, time.Second)
	if err := c.DeleteItem(context.Background(), "cred", "item-1"); err == nil {
		t.Error("DeleteItem against closed server returned nil, want error")
	}
}
