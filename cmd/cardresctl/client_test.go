package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientProfiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/profiles" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(profilesResponse{Profiles: []string{"default", "badge-readers"}})
	}))
	defer server.Close()

	c := newDaemonClient(server.URL)
	profiles, err := c.profiles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 || profiles[0] != "default" {
		t.Errorf("unexpected profiles: %v", profiles)
	}
}

func TestClientReaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(readersResponse{Readers: []readerStatus{
			{Name: "reader-1", Plugin: "pcsc", Active: true, CardPresent: true},
		}})
	}))
	defer server.Close()

	c := newDaemonClient(server.URL)
	readers, err := c.readers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readers) != 1 || readers[0].Name != "reader-1" {
		t.Errorf("unexpected readers: %v", readers)
	}
}

func TestClientAllocate(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/allocate" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(cardResourceView{ID: "abc-123", Reader: "reader-1"})
	}))
	defer server.Close()

	c := newDaemonClient(server.URL)
	res, err := c.allocate(context.Background(), "default", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "abc-123" || res.Reader != "reader-1" {
		t.Errorf("unexpected resource: %+v", res)
	}
	if gotBody["profile"] != "default" {
		t.Errorf("expected profile in body, got %v", gotBody)
	}
	if gotBody["timeoutSeconds"] != float64(5) {
		t.Errorf("expected timeoutSeconds=5 in body, got %v", gotBody)
	}
}

func TestClientAllocateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "resource: no card resource available"})
	}))
	defer server.Close()

	c := newDaemonClient(server.URL)
	_, err := c.allocate(context.Background(), "default", 0)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestClientReleaseAndRemove(t *testing.T) {
	var lastMethod, lastPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod, lastPath = r.Method, r.URL.Path
	}))
	defer server.Close()

	c := newDaemonClient(server.URL)

	if err := c.release(context.Background(), "abc-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastMethod != http.MethodPost || lastPath != "/v1/resources/abc-123/release" {
		t.Errorf("unexpected release request: %s %s", lastMethod, lastPath)
	}

	if err := c.remove(context.Background(), "abc-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastMethod != http.MethodDelete || lastPath != "/v1/resources/abc-123" {
		t.Errorf("unexpected remove request: %s %s", lastMethod, lastPath)
	}
}
