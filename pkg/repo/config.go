package repo

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

// ConfigPatch is a partial config update. Nil fields keep their value.
type ConfigPatch struct {
	APIKey *string `json:"apiKey,omitempty"`
	APIURL *string `json:"apiUrl,omitempty"`
	Model  *string `json:"model,omitempty"`
}

// apply returns base with the patch's non-nil fields laid over it.
func (p ConfigPatch) apply(base store.Config) store.Config {
	if p.APIKey != nil {
		base.APIKey = *p.APIKey
	}
	if p.APIURL != nil {
		base.APIURL = *p.APIURL
	}
	if p.Model != nil {
		base.Model = *p.Model
	}
	return base
}

// ConfigRepo holds the World's single config record.
type ConfigRepo struct {
	b      *binding
	status *world.Status
	logger *log.Logger

	mu  sync.RWMutex
	cfg store.Config
}

func newConfigRepo(b *binding, status *world.Status, logger *log.Logger) *ConfigRepo {
	return &ConfigRepo{b: b, status: status, logger: logger}
}

// Get returns the cached config.
func (r *ConfigRepo) Get() store.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Load re-reads the config from the store.
func (r *ConfigRepo) Load(ctx context.Context) (store.Config, error) {
	r.status.Begin()
	cfg, err := r.load(ctx)
	return cfg, r.status.End(err)
}

func (r *ConfigRepo) load(ctx context.Context) (store.Config, error) {
	const op = "loadConfig"
	sess, err := r.b.current(op)
	if err != nil {
		return store.Config{}, err
	}
	var cfg store.Config
	err = sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		if cfg, err = st.LoadConfig(ctx); err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		r.set(cfg)
		return nil
	})
	return cfg, err
}

// Save merges patch over the current config and stores the result.
func (r *ConfigRepo) Save(ctx context.Context, patch ConfigPatch) (store.Config, error) {
	r.status.Begin()
	cfg, err := r.save(ctx, patch)
	return cfg, r.status.End(err)
}

func (r *ConfigRepo) save(ctx context.Context, patch ConfigPatch) (store.Config, error) {
	const op = "saveConfig"
	sess, err := r.b.current(op)
	if err != nil {
		return store.Config{}, err
	}
	merged := patch.apply(r.Get())
	err = sess.Do(ctx, op, func(st store.Storer) error {
		if err := st.SaveConfig(ctx, merged); err != nil {
			return apperr.New(apperr.KindStorage, op, err)
		}
		r.set(merged)
		return nil
	})
	if err != nil {
		return store.Config{}, err
	}
	return merged, nil
}

func (r *ConfigRepo) set(cfg store.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

func (r *ConfigRepo) reset() {
	r.set(store.Config{})
}

// String returns a pointer to s, for building a ConfigPatch.
func String(s string) *string { return &s }
