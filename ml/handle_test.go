package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStaticHandleCachesResults(t *testing.T) {
	stub := &stubClassifier{index: 1, proba: []float64{0.1, 0.7, 0.05, 0.05, 0.05, 0.05}}
	handle, err := NewStaticHandle(stub, ModelInfo{Type: "stub"}, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, info, err := handle.Classify(exampleVector())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Label != FibroAdenoma {
			t.Fatalf("unexpected label %s", result.Label)
		}
		if info.Version != 1 {
			t.Fatalf("expected version 1, got %d", info.Version)
		}
	}
	if stub.calls != 1 {
		t.Fatalf("expected classifier to be called once, got %d", stub.calls)
	}
}

func TestStaticHandleDoesNotCacheFailures(t *testing.T) {
	stub := &stubClassifier{err: errors.New("bad shape"), proba: []float64{1, 0, 0, 0, 0, 0}}
	handle, err := NewStaticHandle(stub, ModelInfo{}, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		var predErr *PredictionError
		if _, _, err := handle.Classify(exampleVector()); !errors.As(err, &predErr) {
			t.Fatalf("expected PredictionError, got %v", err)
		}
	}
	if stub.calls != 2 {
		t.Fatalf("expected 2 classifier calls, got %d", stub.calls)
	}
}

func TestOpenHandleReload(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, ModelTypeDecisionTree, sixClassTree(), nil)

	handle, err := OpenHandle(HandleConfig{Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := handle.Info()
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	// unchanged artifact keeps the version
	if err := handle.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.Info().Version != 1 {
		t.Fatalf("expected version to stay 1, got %d", handle.Info().Version)
	}

	tree := sixClassTree()
	tree.Nodes[0].Threshold = 10
	writeArtifact(t, dir, ModelTypeDecisionTree, tree, nil)
	if err := handle.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, info, err := handle.Classify(exampleVector())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Version != 2 || result.Label != Carcinoma {
		t.Fatalf("expected reloaded model, got %s at version %d", result.Label, info.Version)
	}
}

func TestReloadFailureKeepsCurrentModel(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, ModelTypeDecisionTree, sixClassTree(), nil)
	handle, err := OpenHandle(HandleConfig{Path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := handle.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	result, _, err := handle.Classify(exampleVector())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Label != FibroAdenoma {
		t.Fatalf("expected previous model to keep serving, got %s", result.Label)
	}
}

func TestOpenHandleMissingArtifact(t *testing.T) {
	if _, err := OpenHandle(HandleConfig{Path: filepath.Join(t.TempDir(), "nope.json")}, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := OpenHandle(HandleConfig{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWatchReloadsChangedArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, ModelTypeDecisionTree, sixClassTree(), nil)
	handle, err := OpenHandle(HandleConfig{Path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- handle.watch(ctx, 50*time.Millisecond) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch returned error: %v", err)
		}
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	tree := sixClassTree()
	tree.Nodes[0].Threshold = 10
	writeArtifact(t, dir, ModelTypeDecisionTree, tree, nil)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if handle.Info().Version == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected watcher to reload the artifact, version is %d", handle.Info().Version)
}

func TestOnReloadCallback(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, ModelTypeDecisionTree, sixClassTree(), nil)
	handle, err := OpenHandle(HandleConfig{Path: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []uint64
	handle.OnReload(func(info ModelInfo) { got = append(got, info.Version) })

	if err := handle.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unchanged artifact must not notify, got %v", got)
	}

	tree := sixClassTree()
	tree.Nodes[0].Threshold = 10
	writeArtifact(t, dir, ModelTypeDecisionTree, tree, nil)
	if err := handle.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected one notification for version 2, got %v", got)
	}
}

func TestClassifyDuringReload(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, ModelTypeDecisionTree, sixClassTree(), nil)
	handle, err := OpenHandle(HandleConfig{Path: path, CacheSize: 4}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	var served atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				result, _, err := handle.Classify(exampleVector())
				if err != nil {
					t.Errorf("classify during reload: %v", err)
					return
				}
				if result.Label != FibroAdenoma && result.Label != Carcinoma {
					t.Errorf("unexpected label %s", result.Label)
					return
				}
				served.Add(1)
			}
		}()
	}

	for i := 0; i < 30; i++ {
		tree := sixClassTree()
		tree.Nodes[0].Threshold = float64(10 + i*5)
		writeArtifact(t, dir, ModelTypeDecisionTree, tree, nil)
		if err := handle.Reload(); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	if got := handle.Info().Version; got != 31 {
		t.Fatalf("expected version 31 after 30 rewrites, got %d", got)
	}
	if served.Load() == 0 {
		t.Fatal("no predictions were served during reloads")
	}
}
