package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/stream"
	"github.com/autom8ter/docrepl/metadata"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	transport "github.com/autom8ter/docrepl/transport/http"
	"github.com/autom8ter/machine/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeReplicator struct {
	status transport.Status
	docs   map[string]*model.Document
	events stream.Stream[applier.BatchApplied]
}

func (f *fakeReplicator) Status(ctx context.Context) (transport.Status, error) {
	return f.status, nil
}

func (f *fakeReplicator) Metadata() *metadata.Snapshot {
	return &metadata.Snapshot{Version: f.status.MetadataVersion}
}

func (f *fakeReplicator) Get(ctx context.Context, db, collection string, id gjson.Result) (*model.Document, error) {
	if db == "broken" {
		return nil, errors.New(errors.Unavailable, "storage is down")
	}
	return f.docs[db+"."+collection+"/"+id.Raw], nil
}

func (f *fakeReplicator) Events() stream.Stream[applier.BatchApplied] {
	return f.events
}

func newServer(t *testing.T) (*httptest.Server, *fakeReplicator) {
	t.Helper()
	repl := &fakeReplicator{
		status: transport.Status{
			State:           applier.Fetching.String(),
			JobID:           "job",
			Checkpoint:      oplog.Checkpoint{Position: oplog.Position{T: 10, I: 2}, Hash: 7},
			MetadataVersion: 3,
		},
		docs: map[string]*model.Document{
			`app.users/1`:   model.MustDocument(map[string]any{"_id": 1, "name": "number"}),
			`app.users/"a"`: model.MustDocument(map[string]any{"_id": "a", "name": "string"}),
		},
		events: stream.New[applier.BatchApplied](machine.New()),
	}
	s, err := transport.New(transport.Config{Addr: ":0"}, repl, nil)
	require.NoError(t, err)
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return server, repl
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	bits, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, bits
}

func TestServer(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := transport.New(transport.Config{}, &fakeReplicator{}, nil)
		assert.Error(t, err)
	})
	t.Run("status", func(t *testing.T) {
		server, repl := newServer(t)
		code, bits := get(t, server.URL+"/status")
		assert.Equal(t, http.StatusOK, code)
		var status transport.Status
		require.NoError(t, json.Unmarshal(bits, &status))
		assert.Equal(t, repl.status, status)
	})
	t.Run("metadata", func(t *testing.T) {
		server, _ := newServer(t)
		code, bits := get(t, server.URL+"/metadata")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, int64(3), gjson.GetBytes(bits, "version").Int())
	})
	t.Run("documents", func(t *testing.T) {
		server, _ := newServer(t)
		code, bits := get(t, server.URL+"/databases/app/collections/users/docs/1")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "number", gjson.GetBytes(bits, "name").String())

		code, bits = get(t, server.URL+"/databases/app/collections/users/docs/a")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "string", gjson.GetBytes(bits, "name").String())

		code, bits = get(t, server.URL+"/databases/app/collections/users/docs/2")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, int64(http.StatusNotFound), gjson.GetBytes(bits, "code").Int())

		code, _ = get(t, server.URL+"/databases/broken/collections/users/docs/2")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
	t.Run("events", func(t *testing.T) {
		server, repl := newServer(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := transport.DialEvents(ctx, server.URL, nil)
		require.NoError(t, err)
		defer client.Close()
		time.Sleep(200 * time.Millisecond)

		want := applier.BatchApplied{
			JobID:      "job",
			Checkpoint: oplog.Checkpoint{Position: oplog.Position{T: 11, I: 1}, Hash: 8},
			Operations: 4,
			Analyzed:   2,
		}
		repl.events.Broadcast(ctx, applier.EventsChannel, want)
		got, err := client.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}
