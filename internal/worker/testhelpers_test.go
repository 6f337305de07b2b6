package worker

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/synapse/internal/config"
	gormdb "github.com/thebtf/synapse/internal/db/gorm"
	"github.com/thebtf/synapse/pkg/models"
)

// testStore creates a Store backed by a temporary SQLite database.
func testStore(t *testing.T) *gormdb.Store {
	t.Helper()

	store, err := gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testConfig returns a config suitable for in-process tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SYNAPSE_DATA_DIR", t.TempDir())

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "unused.db")
	cfg.TickInterval = 10 * time.Millisecond
	cfg.RequestRate = 1000
	cfg.RequestBurst = 1000
	cfg.AllowedOrigins = nil
	return cfg
}

// startService builds a service over store and waits until it is ready.
func startService(t *testing.T, cfg *config.Config, deps Dependencies) *Service {
	t.Helper()

	svc := NewService("test", cfg, deps, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitReady(ctx))
	return svc
}

// stubEmbedder returns a fixed vector per text.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for text")
}

// do sends a request through the service router.
func do(t *testing.T, svc *Service, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func seedItem(t *testing.T, store *gormdb.Store, id, ws string, emb []float32, x, y float64) {
	t.Helper()
	err := gormdb.NewItemStore(store).CreateItem(context.Background(), &models.Item{
		ID:          id,
		WorkspaceID: ws,
		ItemType:    models.ItemTypeNote,
		Title:       "title " + id,
		Content:     "content " + id,
		PositionX:   x,
		PositionY:   y,
		Embedding:   models.Vector(emb),
	})
	require.NoError(t, err)
}

func seedWorkspace(t *testing.T, store *gormdb.Store, id string, gravity, threshold float64) {
	t.Helper()
	err := gormdb.NewWorkspaceStore(store).CreateWorkspace(context.Background(), &models.Workspace{
		ID:                  id,
		Name:                "workspace " + id,
		GravityStrength:     gravity,
		SimilarityThreshold: threshold,
	})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
