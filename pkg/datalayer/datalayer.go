// Package datalayer assembles the World manager, the repositories, the
// vector memory pipeline and the import/export codec into one object that
// front ends (the CLI, the wasm bridge) drive.
package datalayer

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/config"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/embedding"
	"github.com/34892002/3000World/pkg/replygen"
	"github.com/34892002/3000World/pkg/repo"
	"github.com/34892002/3000World/pkg/transfer"
	"github.com/34892002/3000World/pkg/vectormem"
	"github.com/34892002/3000World/pkg/world"
)

// DataLayer is the role-play data layer for one process.
type DataLayer struct {
	cfg    *config.Config
	logger *log.Logger

	manager *world.Manager
	repos   *repo.Set
	memory  *vectormem.Pipeline
	codec   *transfer.Codec
	replies *replygen.Generator
}

// Option configures New.
type Option func(*options)

type options struct {
	logger   *log.Logger
	embedder embedding.Embedder
	opener   world.Opener
	catalog  world.Catalog
}

// WithLogger sets the root logger. Components log under their own prefix.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder replaces the embedder built from the config.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithOpener replaces how World stores are opened.
func WithOpener(op world.Opener) Option {
	return func(o *options) { o.opener = op }
}

// WithCatalog replaces where Worlds are kept.
func WithCatalog(c world.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// New wires a DataLayer from cfg. Nothing is opened until Connect.
func New(cfg *config.Config, opts ...Option) (*DataLayer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New(nil, cfg.Logging.Level)
	}
	if o.embedder == nil {
		e, err := embedding.New(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		o.embedder = e
	}

	status := world.NewStatus()
	mopts := []world.Option{world.WithLogger(o.logger), world.WithStatus(status)}
	if o.opener != nil {
		mopts = append(mopts, world.WithOpener(o.opener))
	}
	if o.catalog != nil {
		mopts = append(mopts, world.WithCatalog(o.catalog))
	}
	manager := world.NewManager(cfg.Storage.DataDir, cfg.Storage.WorldPrefix, mopts...)

	memory, err := vectormem.New(o.embedder,
		vectormem.WithLogger(o.logger),
		vectormem.WithCollection(cfg.Memory.Collection, cfg.Memory.VectorField),
		vectormem.WithEmbedTimeout(cfg.Memory.EmbedTimeout),
		vectormem.WithCacheSize(cfg.Memory.CacheEntries),
		vectormem.WithRateLimit(cfg.Memory.EmbedRPS),
		vectormem.WithEnabled(cfg.Memory.Enabled),
	)
	if err != nil {
		return nil, err
	}

	repos := repo.NewSet(status, repo.Options{
		DropEmptyGroups: cfg.Groups.DropEmpty,
		Sink:            memory,
		Logger:          o.logger,
	})

	// Repositories load before the pipeline initialises; disconnect runs
	// the listeners in reverse.
	manager.Subscribe(repos)
	manager.Subscribe(memory)

	return &DataLayer{
		cfg:     cfg,
		logger:  o.logger,
		manager: manager,
		repos:   repos,
		memory:  memory,
		codec:   transfer.NewCodec(manager, repos, o.logger),
		replies: &replygen.Generator{},
	}, nil
}

// =============================================================================
// Worlds
// =============================================================================

func (d *DataLayer) ListWorlds() ([]string, error) { return d.manager.ListWorlds() }

func (d *DataLayer) Connect(ctx context.Context, name string) error {
	return d.manager.Connect(ctx, name)
}

func (d *DataLayer) Disconnect() error { return d.manager.Disconnect() }

func (d *DataLayer) CurrentWorld() (string, bool) { return d.manager.CurrentWorld() }

func (d *DataLayer) IsConnected() bool { return d.manager.IsConnected() }

// SyncConnectionState re-derives the connection flags from the store handle.
func (d *DataLayer) SyncConnectionState() bool { return d.manager.SyncConnectionState() }

// WorldPath returns the store file of the named World.
func (d *DataLayer) WorldPath(name string) string { return d.manager.Path(name) }

// WorldExists reports whether the named World has a store.
func (d *DataLayer) WorldExists(name string) bool { return d.manager.Exists(name) }

func (d *DataLayer) DeleteWorld(name string) error { return d.manager.DeleteWorld(name) }

// Loading reports whether a mutating operation is running.
func (d *DataLayer) Loading() bool { return d.manager.Status().Loading() }

// Err returns the last operation error, for display.
func (d *DataLayer) Err() error { return d.manager.Status().Err() }

func (d *DataLayer) ClearError() { d.manager.Status().ClearError() }

// =============================================================================
// Collections
// =============================================================================

func (d *DataLayer) Characters() *repo.Characters { return d.repos.Characters }
func (d *DataLayer) Groups() *repo.Groups         { return d.repos.Groups }
func (d *DataLayer) Worldbooks() *repo.Worldbooks { return d.repos.Worldbooks }
func (d *DataLayer) Config() *repo.ConfigRepo     { return d.repos.Config }
func (d *DataLayer) Chat() *repo.ChatHistory      { return d.repos.Chat }

// Refresh reloads every cached collection; no-op when disconnected.
func (d *DataLayer) Refresh(ctx context.Context) error { return d.repos.Refresh(ctx) }

// TriggeredWorldbooks returns the cached worldbook entries whose keywords
// occur in text.
func (d *DataLayer) TriggeredWorldbooks(text string) []*store.WorldbookEntry {
	return d.repos.Worldbooks.Triggered(text)
}

// =============================================================================
// Memory
// =============================================================================

// InitVectorDB brings the vector index up for the connected World.
func (d *DataLayer) InitVectorDB(ctx context.Context) vectormem.State { return d.memory.Init(ctx) }

func (d *DataLayer) VectorState() vectormem.State { return d.memory.State() }

// Recall returns earlier messages similar to text. k <= 0 uses the
// configured default.
func (d *DataLayer) Recall(ctx context.Context, text string, k int, sessionID string) ([]*store.VectorMatch, error) {
	if k <= 0 {
		k = d.cfg.Memory.RecallTopK
	}
	return d.memory.Recall(ctx, text, k, sessionID)
}

func (d *DataLayer) Reindex(ctx context.Context, progress func(done, total int)) (vectormem.ReindexResult, error) {
	return d.memory.Reindex(ctx, progress)
}

func (d *DataLayer) VectorCount(ctx context.Context) (int, error) { return d.memory.Count(ctx) }

// =============================================================================
// Transfer
// =============================================================================

// ExportWorld returns the named World as an indented JSON document.
func (d *DataLayer) ExportWorld(ctx context.Context, name string) ([]byte, error) {
	doc, err := d.codec.ExportWorld(ctx, name)
	if err != nil {
		return nil, err
	}
	return transfer.Marshal(doc)
}

// ImportWorld replaces the named World's content with data.
func (d *DataLayer) ImportWorld(ctx context.Context, data []byte, name string) error {
	return d.codec.ImportWorld(ctx, data, name)
}

// =============================================================================
// Replies
// =============================================================================

// GenerateReply builds a prompt from input, the worldbook entries it
// triggers and recalled memories of sessionID, and asks the model
// configured for the connected World. The reply is cleaned but not saved.
func (d *DataLayer) GenerateReply(ctx context.Context, input, sessionID string) (string, error) {
	lore := d.TriggeredWorldbooks(input)
	recalled, err := d.Recall(ctx, input, 0, sessionID)
	if err != nil {
		d.logger.Warn("recall for reply failed", "session", sessionID, "err", err)
		recalled = nil
	}
	prompt := replygen.BuildPrompt(input, lore, recalled)
	return d.replies.Generate(ctx, prompt, d.repos.Config.Get())
}

// Close lets background vector jobs finish, then disconnects.
func (d *DataLayer) Close() error {
	d.memory.Wait()
	return d.manager.Disconnect()
}

// WaitVectors blocks until queued vector jobs are done.
func (d *DataLayer) WaitVectors() { d.memory.Wait() }
