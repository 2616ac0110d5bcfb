package projectdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientDone(t *testing.T) {
	var got donePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/msb/done" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second, nil)
	rec := Record{ProjectID: "M01", MSBID: "msb-1", MSBTitle: "t", TransactionID: "txn", QueueID: 7}
	if err := c.Done(context.Background(), rec, "u1"); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if got.ProjectID != "M01" || got.UserID != "u1" || got.QueueID != 7 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestHTTPClientNonFatalOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second, nil)
	rec := Record{ProjectID: "M01", MSBID: "msb-1"}
	err := c.Done(context.Background(), rec, "u1")
	if err == nil {
		t.Fatal("expected an error from a 500 response")
	}
}

func TestHTTPClientRespectsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 10*time.Millisecond, nil)
	rec := Record{ProjectID: "M01", MSBID: "msb-1"}
	err := c.Done(context.Background(), rec, "u1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
