package docrepl_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/autom8ter/docrepl"
	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/fetcher/memory"
	"github.com/autom8ter/docrepl/internal/testutil"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/autom8ter/docrepl/repl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callback struct {
	mu       sync.Mutex
	errs     []error
	finished bool
}

func (c *callback) WaitUntilStartPermission(ctx context.Context) error {
	return nil
}

func (c *callback) Rollback(svc *repl.Service, err *oplog.RollbackError) {
	c.OnError(svc, err)
}

func (c *callback) OnError(svc *repl.Service, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *callback) OnFinish(svc *repl.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
}

func TestLoadConfig(t *testing.T) {
	t.Run("yaml with defaults", func(t *testing.T) {
		cfg, err := docrepl.LoadConfig([]byte(`
provider: badger
providerParams:
  storage_path: /tmp/docrepl
source:
  type: mongo
  params:
    uri: mongodb://localhost:27017
pollTimeout: 250ms
logLevel: debug
`))
		require.NoError(t, err)
		assert.Equal(t, "badger", cfg.Provider)
		assert.Equal(t, "/tmp/docrepl", cfg.ProviderParams["storage_path"])
		assert.Equal(t, "mongo", cfg.Source.Type)
		assert.Equal(t, "mongodb://localhost:27017", cfg.Source.Params["uri"])
		assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)
		assert.Equal(t, 1000, cfg.BatchSize)
		assert.Equal(t, 20*time.Millisecond, cfg.BatchLinger)
		assert.Equal(t, 8, cfg.MetadataRetries)
		assert.Equal(t, "debug", cfg.LogLevel)
	})
	t.Run("json", func(t *testing.T) {
		cfg, err := docrepl.LoadConfig([]byte(`{"provider": "sqlite", "source": {"type": "redis", "params": {"addr": "localhost:6379"}}, "batchSize": 10}`))
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.BatchSize)
		assert.Equal(t, "info", cfg.LogLevel)
	})
	t.Run("invalid", func(t *testing.T) {
		for _, content := range []string{
			`source: {type: memory}`,
			`provider: badger`,
			`{provider: badger, source: {type: memory}, logLevel: loud}`,
			`{provider: badger, source: {type: memory}, batchSize: -1}`,
		} {
			_, err := docrepl.LoadConfig([]byte(content))
			assert.True(t, errors.HasCode(err, errors.Validation), content)
		}
	})
}

func TestReplicator(t *testing.T) {
	ctx := context.Background()
	cfg := docrepl.Config{
		Provider:    "badger",
		Source:      docrepl.SourceConfig{Type: "memory"},
		PollTimeout: 50 * time.Millisecond,
		BatchLinger: time.Millisecond,
		LogLevel:    "error",
	}
	t.Run("unknown provider", func(t *testing.T) {
		bad := cfg
		bad.Provider = "leveldb"
		_, err := docrepl.Open(ctx, bad, &callback{})
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})
	t.Run("unknown source", func(t *testing.T) {
		bad := cfg
		bad.Source.Type = "kafka"
		_, err := docrepl.Open(ctx, bad, &callback{})
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})
	t.Run("replicates", func(t *testing.T) {
		cb := &callback{}
		r, err := docrepl.Open(ctx, cfg, cb)
		require.NoError(t, err)
		log, ok := r.Source().(*memory.Log)
		require.True(t, ok)

		user := testutil.NewUserDoc()
		last := log.Append(
			testutil.Insert(testutil.Users, user),
			testutil.Update(testutil.Users, user["_id"], map[string]any{"$set": map[string]any{"contact.phone": "555"}}, false),
		)
		require.NoError(t, r.Start(ctx))
		assert.Eventually(t, func() bool {
			status, err := r.Status(ctx)
			return err == nil && status.Checkpoint == last
		}, 5*time.Second, 10*time.Millisecond)

		doc, err := r.Get(ctx, testutil.Users.Database, testutil.Users.Collection, model.MustDocument(map[string]any{"_id": user["_id"]}).ID())
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "555", doc.GetString("contact.phone"))
		assert.Equal(t, user["name"], doc.GetString("name"))

		coll := r.Metadata().Collection(testutil.Users.Database, testutil.Users.Collection)
		require.NotNil(t, coll)
		assert.NotNil(t, coll.DocPart([]string{"contact"}))

		status, err := r.Status(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, status.JobID)
		assert.Empty(t, status.FinishState)
		assert.Contains(t, []string{applier.Idle.String(), applier.Fetching.String()}, status.State)

		require.NoError(t, r.Close(ctx))
		cb.mu.Lock()
		defer cb.mu.Unlock()
		assert.True(t, cb.finished)
		assert.Empty(t, cb.errs)
	})
}
