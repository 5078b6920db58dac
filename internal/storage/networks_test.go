package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestFetchNetworks(t *testing.T) {
	payload := bytes.Repeat([]byte("nnue"), 50_000)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path == "/missing.nnue" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	files := []NetworkFile{
		{Name: "a.nnue", URL: srv.URL + "/a.nnue", Size: int64(len(payload))},
		{Name: "b.nnue", URL: srv.URL + "/b.nnue", Size: int64(len(payload))},
	}

	var last FetchProgress
	f := &NetworkFetcher{Client: srv.Client(), Logger: zerolog.Nop(), OnProgress: func(p FetchProgress) { last = p }}
	if err := f.Fetch(context.Background(), dir, files); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	for _, nf := range files {
		got, err := os.ReadFile(filepath.Join(dir, nf.Name))
		if err != nil {
			t.Fatalf("read %s: %v", nf.Name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s: %d bytes, want %d", nf.Name, len(got), len(payload))
		}
	}
	if last.FileNo != 2 || last.BytesReceived != int64(len(payload)) {
		t.Errorf("last progress = %+v", last)
	}

	// Present files are not downloaded again.
	before := requests.Load()
	if err := f.Fetch(context.Background(), dir, files); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if requests.Load() != before {
		t.Errorf("%d requests for files already present", requests.Load()-before)
	}

	missing := []NetworkFile{{Name: "missing.nnue", URL: srv.URL + "/missing.nnue", Size: 10}}
	if err := f.Fetch(context.Background(), dir, missing); err == nil {
		t.Error("Fetch of a missing file succeeded")
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.nnue.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}
