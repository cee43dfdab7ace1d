package ml

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 256

type HandleConfig struct {
	ModelType string
	Path      string
	CacheSize int
}

type cacheKey struct {
	version  uint64
	features FeatureVector
}

type snapshot struct {
	adapter *Adapter
	info    ModelInfo
}

// Handle owns the loaded model. The classifier behind a snapshot is never
// mutated; Reload swaps in a fresh snapshot and requests already holding the
// old one finish against it.
type Handle struct {
	cfg      HandleConfig
	logger   *zap.Logger
	current  atomic.Pointer[snapshot]
	version  atomic.Uint64
	cache    *lru.Cache[cacheKey, PredictionResult]
	reloadMu sync.Mutex
	onReload func(ModelInfo)
}

// OpenHandle loads the artifact once and returns a handle serving it.
func OpenHandle(cfg HandleConfig, logger *zap.Logger) (*Handle, error) {
	if cfg.Path == "" {
		return nil, errors.New("model path is required")
	}
	h, err := newHandle(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// NewStaticHandle serves an in-memory classifier. Reload is not available.
func NewStaticHandle(classifier Classifier, info ModelInfo, cacheSize int) (*Handle, error) {
	if classifier == nil {
		return nil, ErrNoClassifier
	}
	h, err := newHandle(HandleConfig{CacheSize: cacheSize}, nil)
	if err != nil {
		return nil, err
	}
	h.swap(classifier, info)
	return h, nil
}

func newHandle(cfg HandleConfig, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	h := &Handle{cfg: cfg, logger: logger}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[cacheKey, PredictionResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

// Reload reads the artifact from disk again. On failure the current model
// keeps serving.
func (h *Handle) Reload() error {
	if h.cfg.Path == "" {
		return errors.New("handle has no artifact path")
	}
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	classifier, info, err := LoadModel(h.cfg.ModelType, h.cfg.Path)
	if err != nil {
		return err
	}
	if prev := h.current.Load(); prev != nil && prev.info.Checksum == info.Checksum {
		h.logger.Debug("model artifact unchanged", zap.String("checksum", info.Checksum))
		return nil
	}
	info = h.swap(classifier, info)
	h.logger.Info("model loaded",
		zap.String("path", info.Path),
		zap.String("type", info.Type),
		zap.Uint64("version", info.Version),
		zap.String("checksum", info.Checksum))
	if h.onReload != nil {
		h.onReload(info)
	}
	return nil
}

// OnReload registers fn to run after every successful swap triggered by
// Reload. fn runs with the reload lock held and must not call Reload.
func (h *Handle) OnReload(fn func(ModelInfo)) {
	h.reloadMu.Lock()
	h.onReload = fn
	h.reloadMu.Unlock()
}

func (h *Handle) swap(classifier Classifier, info ModelInfo) ModelInfo {
	info.Version = h.version.Add(1)
	h.current.Store(&snapshot{adapter: NewAdapter(classifier), info: info})
	if h.cache != nil {
		h.cache.Purge()
	}
	return info
}

// Classify runs the current model. Results are cached per model version since
// classification is deterministic.
func (h *Handle) Classify(features FeatureVector) (PredictionResult, ModelInfo, error) {
	snap := h.current.Load()
	if snap == nil {
		return PredictionResult{}, ModelInfo{}, &PredictionError{Op: "classify", Err: ErrNoClassifier}
	}

	key := cacheKey{version: snap.info.Version, features: features}
	if h.cache != nil {
		if result, ok := h.cache.Get(key); ok {
			return result, snap.info, nil
		}
	}

	result, err := snap.adapter.Classify(features)
	if err != nil {
		return PredictionResult{}, snap.info, err
	}
	if h.cache != nil {
		h.cache.Add(key, result)
	}
	return result, snap.info, nil
}

func (h *Handle) Info() ModelInfo {
	snap := h.current.Load()
	if snap == nil {
		return ModelInfo{}
	}
	return snap.info
}
