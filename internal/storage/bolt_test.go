package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/apiscope/internal/types"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "db", "apiscope.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProxy(t *testing.T, s *BoltStore, id string) {
	t.Helper()
	p := &types.Proxy{ID: id, Name: id, DestinationURL: "https://api.example.com", Status: types.ProxyActive, CreatedAt: time.Now().UTC()}
	if err := s.CreateProxy(context.Background(), p); err != nil {
		t.Fatalf("create proxy: %v", err)
	}
}

func codeOf(err error) string {
	var ce *types.CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func TestProxyLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")

	if err := s.CreateProxy(ctx, &types.Proxy{ID: "p1"}); codeOf(err) != types.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.GetProxy(ctx, "p1")
	if err != nil || got.DestinationURL != "https://api.example.com" {
		t.Fatalf("get proxy: %+v %v", got, err)
	}

	updated, err := s.UpdateProxy(ctx, "p1", func(p *types.Proxy) error {
		p.Status = types.ProxyInactive
		return nil
	})
	if err != nil || updated.Active() {
		t.Fatalf("update proxy: %+v %v", updated, err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.TouchProxy(ctx, "p1", at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.GetProxy(ctx, "p1")
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Fatalf("expected last used %v, got %v", at, got.LastUsedAt)
	}

	list, err := s.ListProxies(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list proxies: %v %v", list, err)
	}

	if _, err := s.GetProxy(ctx, "missing"); codeOf(err) != types.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCallsMostRecentFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")

	for i := 0; i < 5; i++ {
		call := &types.CapturedCall{ID: fmt.Sprintf("c%d", i), ProxyID: "p1", Method: "GET", URL: fmt.Sprintf("https://api.example.com/items/%d", i)}
		if err := s.AppendCall(ctx, call); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	calls, err := s.ListCalls(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(calls) != 3 || calls[0].ID != "c4" || calls[2].ID != "c2" {
		t.Fatalf("unexpected order: %v, %v, %v", calls[0].ID, calls[1].ID, calls[2].ID)
	}

	all, _ := s.ListCalls(ctx, "p1", 0)
	if len(all) != 5 {
		t.Fatalf("expected all 5 calls, got %d", len(all))
	}
	n, _ := s.CountCalls(ctx, "p1")
	if n != 5 {
		t.Fatalf("expected count 5, got %d", n)
	}

	c, err := s.GetCall(ctx, "p1", "c1")
	if err != nil || c.URL != "https://api.example.com/items/1" {
		t.Fatalf("get call: %+v %v", c, err)
	}
	if _, err := s.GetCall(ctx, "p1", "nope"); codeOf(err) != types.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.AppendCall(ctx, &types.CapturedCall{ID: "x", ProxyID: "ghost"}); codeOf(err) != types.CodeNotFound {
		t.Fatalf("expected not found for unknown proxy, got %v", err)
	}
}

func TestReplaceEndpointsIsFullReplace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")

	first := []*types.DiscoveredEndpoint{
		{ProxyID: "p1", Pattern: "GET /users", Method: "GET", Path: "/users", Protocol: types.ProtocolHTTP},
		{ProxyID: "p1", Pattern: "GET /users/:id", Method: "GET", Path: "/users/:id", Protocol: types.ProtocolHTTP},
	}
	if err := s.ReplaceEndpoints(ctx, "p1", first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	second := []*types.DiscoveredEndpoint{{ProxyID: "p1", Pattern: "GET /orders", Method: "GET", Path: "/orders", Protocol: types.ProtocolHTTP}}
	if err := s.ReplaceEndpoints(ctx, "p1", second); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.ListEndpoints(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Pattern != "GET /orders" {
		t.Fatalf("expected only the second set, got %+v", got)
	}
}

func TestReplaceEndpointsConcurrentReadersNeverSeeEmpty(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")
	set := []*types.DiscoveredEndpoint{{ProxyID: "p1", Pattern: "GET /a", Method: "GET", Path: "/a", Protocol: types.ProtocolHTTP}}
	if err := s.ReplaceEndpoints(ctx, "p1", set); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	empty := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, err := s.ListEndpoints(ctx, "p1")
			if err == nil && len(got) == 0 {
				select {
				case empty <- struct{}{}:
				default:
				}
			}
		}
	}()
	for i := 0; i < 50; i++ {
		if err := s.ReplaceEndpoints(ctx, "p1", set); err != nil {
			t.Fatalf("replace: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case <-empty:
		t.Fatalf("reader observed an empty endpoint set mid-replace")
	default:
	}
}

func TestDocsVersioning(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")

	for i := 0; i < 3; i++ {
		doc, err := s.AppendDocs(ctx, &types.Documentation{ProxyID: "p1", Markdown: fmt.Sprintf("v%d", i+1)}, true)
		if err != nil {
			t.Fatalf("append docs: %v", err)
		}
		if doc.Version != i+1 {
			t.Fatalf("expected version %d, got %d", i+1, doc.Version)
		}
	}
	latest, err := s.GetDocs(ctx, "p1", 0)
	if err != nil || latest.Version != 3 || latest.Markdown != "v3" {
		t.Fatalf("latest: %+v %v", latest, err)
	}
	v1, err := s.GetDocs(ctx, "p1", 1)
	if err != nil || v1.Markdown != "v1" {
		t.Fatalf("v1: %+v %v", v1, err)
	}

	doc, err := s.AppendDocs(ctx, &types.Documentation{ProxyID: "p1", Markdown: "v4"}, false)
	if err != nil || doc.Version != 4 {
		t.Fatalf("append without history: %+v %v", doc, err)
	}
	versions, _ := s.DocVersions(ctx, "p1")
	if len(versions) != 1 || versions[0] != 4 {
		t.Fatalf("expected only version 4, got %v", versions)
	}
	if _, err := s.GetDocs(ctx, "p1", 1); codeOf(err) != types.CodeNotFound {
		t.Fatalf("expected pruned version not found, got %v", err)
	}
}

func TestAppendDocsFuncSeesAssignedVersion(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")
	_, _ = s.AppendDocs(ctx, &types.Documentation{ProxyID: "p1"}, true)

	doc, err := s.AppendDocsFunc(ctx, "p1", true, func(version int) (*types.Documentation, error) {
		return &types.Documentation{Markdown: fmt.Sprintf("version %d", version)}, nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if doc.Version != 2 || doc.Markdown != "version 2" || doc.ProxyID != "p1" {
		t.Fatalf("unexpected doc %+v", doc)
	}

	_, err = s.AppendDocsFunc(ctx, "p1", false, func(int) (*types.Documentation, error) {
		return nil, fmt.Errorf("render failed")
	})
	if err == nil {
		t.Fatal("expected build error")
	}
	if versions, _ := s.DocVersions(ctx, "p1"); len(versions) != 2 {
		t.Fatalf("failed build must not prune history, got %v", versions)
	}
}

func TestDeleteProxyRemovesEverything(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedProxy(t, s, "p1")
	_ = s.AppendCall(ctx, &types.CapturedCall{ID: "c1", ProxyID: "p1"})
	_ = s.ReplaceEndpoints(ctx, "p1", []*types.DiscoveredEndpoint{{ProxyID: "p1", Pattern: "GET /a", Method: "GET", Path: "/a", Protocol: types.ProtocolHTTP}})
	_, _ = s.AppendDocs(ctx, &types.Documentation{ProxyID: "p1"}, true)

	if err := s.DeleteProxy(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if calls, _ := s.ListCalls(ctx, "p1", 0); len(calls) != 0 {
		t.Fatalf("calls survived delete")
	}
	if eps, _ := s.ListEndpoints(ctx, "p1"); len(eps) != 0 {
		t.Fatalf("endpoints survived delete")
	}
	if _, err := s.GetDocs(ctx, "p1", 0); codeOf(err) != types.CodeNotFound {
		t.Fatalf("docs survived delete: %v", err)
	}
	if err := s.DeleteProxy(ctx, "p1"); codeOf(err) != types.CodeNotFound {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
