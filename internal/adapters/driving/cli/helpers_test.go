package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/services"
)

type testEnv struct {
	source *memory.RecordStore
	target *memory.RecordStore
	state  *memory.SyncStateStore

	// cfg is the configuration the last open produced.
	cfg    *domain.Config
	closed int
}

func testMappings() []domain.FieldMapping {
	return []domain.FieldMapping{
		{Entity: domain.EntityProduct, Field: "sku", SourcePath: "variants.0.sku", TargetPath: "SKU", Direction: domain.DirectionSourceToTarget},
		{Entity: domain.EntityProduct, Field: "title", SourcePath: "title", TargetPath: "Title"},
		{Entity: domain.EntityProduct, Field: "vendor", SourcePath: "vendor", TargetPath: "Vendor"},
	}
}

func shopProduct(id, sku, title string) domain.NativeRecord {
	return domain.NativeRecord{
		ID: id,
		Fields: map[string]any{
			"title":    title,
			"vendor":   "Acme",
			"variants": []any{map[string]any{"sku": sku}},
		},
	}
}

// setupEnv installs an opener backed by in-memory stores and restores the
// package state when the test ends.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		source: memory.NewRecordStore("shop"),
		target: memory.NewRecordStore("sheet"),
		state:  memory.NewSyncStateStore(),
	}

	oldOpener := openServices
	SetOpener(func(_ context.Context, _ string, adjust func(*domain.Config)) (*Services, error) {
		cfg := domain.DefaultConfig()
		cfg.Sync.Workers = 1
		cfg.Sync.BaseBackoff = domain.Duration(time.Millisecond)
		cfg.Sync.CallTimeout = domain.Duration(time.Second)
		cfg.Stores.Source = domain.StoreConfig{Type: "memory", Name: "shop"}
		cfg.Stores.Target = domain.StoreConfig{Type: "memory", Name: "sheet"}
		cfg.FieldMappings = testMappings()
		if adjust != nil {
			adjust(&cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		env.cfg = &cfg

		mapper, err := services.NewFieldMapper(cfg.FieldMappings)
		if err != nil {
			return nil, err
		}
		engine := services.NewEngine(cfg, mapper, env.source, env.target, env.state,
			services.WithPassHistory(env.state))
		return &Services{
			Config:  &cfg,
			Engine:  engine,
			State:   env.state,
			History: env.state,
			Close: func() error {
				env.closed++
				return nil
			},
		}, nil
	})

	t.Cleanup(func() {
		openServices = oldOpener
		syncMode, syncInterval, syncFields = "", 0, nil
		syncJSON, syncDryRun = false, false
		historyLimit, historyJSON = 10, false
	})
	return env
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		for _, c := range rootCmd.Commands() {
			c.SetContext(nil) //nolint:staticcheck // cobra keeps a child's ctx once set
		}
	}()

	err := rootCmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func requireOpened(t *testing.T, env *testEnv) *domain.Config {
	t.Helper()
	require.NotNil(t, env.cfg, "services were not opened")
	return env.cfg
}
