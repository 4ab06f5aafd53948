package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dgnsrekt/apiscope/internal/types"
)

var (
	bucketProxies   = []byte("proxies")
	bucketCalls     = []byte("calls")
	bucketCallIndex = []byte("call_index")
	bucketEndpoints = []byte("endpoints")
	bucketDocs      = []byte("docs")
)

// BoltStore persists proxies, captured calls, discovered endpoints, and
// documentation versions. Per-proxy data lives in nested buckets named by
// proxy ID.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProxies, bucketCalls, bucketCallIndex, bucketEndpoints, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

func notFound(kind, id string) error {
	return types.NewError(types.CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil)
}

func storageErr(op string, err error) error {
	var ce *types.CodedError
	if errors.As(err, &ce) {
		return err
	}
	return types.NewError(types.CodeStorage, op, err)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Proxies

func (s *BoltStore) CreateProxy(ctx context.Context, p *types.Proxy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal proxy: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		if b.Get([]byte(p.ID)) != nil {
			return types.NewError(types.CodeConflict, fmt.Sprintf("proxy %q already exists", p.ID), nil)
		}
		return b.Put([]byte(p.ID), data)
	})
	if err != nil {
		return storageErr("create proxy", err)
	}
	return nil
}

func (s *BoltStore) GetProxy(ctx context.Context, id string) (*types.Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p types.Proxy
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProxies).Get([]byte(id))
		if data == nil {
			return notFound("proxy", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, storageErr("get proxy", err)
	}
	return &p, nil
}

func (s *BoltStore) ListProxies(ctx context.Context) ([]*types.Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.Proxy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProxies).ForEach(func(_, v []byte) error {
			var p types.Proxy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list proxies", err)
	}
	return out, nil
}

// UpdateProxy applies fn to the stored proxy and writes the result.
func (s *BoltStore) UpdateProxy(ctx context.Context, id string, fn func(p *types.Proxy) error) (*types.Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p types.Proxy
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		data := b.Get([]byte(id))
		if data == nil {
			return notFound("proxy", id)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		out, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, storageErr("update proxy", err)
	}
	return &p, nil
}

// TouchProxy records the last time traffic went through a proxy.
func (s *BoltStore) TouchProxy(ctx context.Context, id string, at time.Time) error {
	_, err := s.UpdateProxy(ctx, id, func(p *types.Proxy) error {
		t := at.UTC()
		p.LastUsedAt = &t
		return nil
	})
	return err
}

// DeleteProxy removes a proxy and everything recorded for it.
func (s *BoltStore) DeleteProxy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		if b.Get([]byte(id)) == nil {
			return notFound("proxy", id)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		for _, name := range [][]byte{bucketCalls, bucketCallIndex, bucketEndpoints, bucketDocs} {
			parent := tx.Bucket(name)
			if parent.Bucket([]byte(id)) == nil {
				continue
			}
			if err := parent.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("delete proxy", err)
	}
	return nil
}

// Captured calls

// AppendCall stores a call under its proxy. Calls for unknown proxies are
// rejected so a deleted proxy cannot be resurrected by late writes.
func (s *BoltStore) AppendCall(ctx context.Context, call *types.CapturedCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProxies).Get([]byte(call.ProxyID)) == nil {
			return notFound("proxy", call.ProxyID)
		}
		calls, err := tx.Bucket(bucketCalls).CreateBucketIfNotExists([]byte(call.ProxyID))
		if err != nil {
			return err
		}
		index, err := tx.Bucket(bucketCallIndex).CreateBucketIfNotExists([]byte(call.ProxyID))
		if err != nil {
			return err
		}
		seq, err := calls.NextSequence()
		if err != nil {
			return err
		}
		key := itob(seq)
		if err := calls.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(call.ID), key)
	})
	if err != nil {
		return storageErr("append call", err)
	}
	return nil
}

// ListCalls returns up to limit calls, most recent first. A limit of zero
// or less returns every call.
func (s *BoltStore) ListCalls(ctx context.Context, proxyID string, limit int) ([]*types.CapturedCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.CapturedCall
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalls).Bucket([]byte(proxyID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var call types.CapturedCall
			if err := json.Unmarshal(v, &call); err != nil {
				return err
			}
			out = append(out, &call)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list calls", err)
	}
	return out, nil
}

func (s *BoltStore) GetCall(ctx context.Context, proxyID, callID string) (*types.CapturedCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var call types.CapturedCall
	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketCallIndex).Bucket([]byte(proxyID))
		calls := tx.Bucket(bucketCalls).Bucket([]byte(proxyID))
		if index == nil || calls == nil {
			return notFound("call", callID)
		}
		key := index.Get([]byte(callID))
		if key == nil {
			return notFound("call", callID)
		}
		data := calls.Get(key)
		if data == nil {
			return notFound("call", callID)
		}
		return json.Unmarshal(data, &call)
	})
	if err != nil {
		return nil, storageErr("get call", err)
	}
	return &call, nil
}

// CountCalls returns how many calls are stored for a proxy.
func (s *BoltStore) CountCalls(ctx context.Context, proxyID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketCalls).Bucket([]byte(proxyID)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("count calls", err)
	}
	return n, nil
}

// Discovered endpoints

// ReplaceEndpoints swaps the proxy's discovered endpoint set in a single
// transaction, so readers see either the old set or the new one.
func (s *BoltStore) ReplaceEndpoints(ctx context.Context, proxyID string, endpoints []*types.DiscoveredEndpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(endpoints))
	for _, ep := range endpoints {
		data, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("failed to marshal endpoint %s: %w", ep.Key(), err)
		}
		encoded[ep.Key()] = data
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProxies).Get([]byte(proxyID)) == nil {
			return notFound("proxy", proxyID)
		}
		parent := tx.Bucket(bucketEndpoints)
		if parent.Bucket([]byte(proxyID)) != nil {
			if err := parent.DeleteBucket([]byte(proxyID)); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket([]byte(proxyID))
		if err != nil {
			return err
		}
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("replace endpoints", err)
	}
	return nil
}

// ListEndpoints returns the discovered endpoints ordered by key.
func (s *BoltStore) ListEndpoints(ctx context.Context, proxyID string) ([]*types.DiscoveredEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.DiscoveredEndpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEndpoints).Bucket([]byte(proxyID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var ep types.DiscoveredEndpoint
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			out = append(out, &ep)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list endpoints", err)
	}
	return out, nil
}

// Documentation

// AppendDocs stores doc as the next version for its proxy. Without
// retainHistory older versions are removed in the same transaction.
func (s *BoltStore) AppendDocs(ctx context.Context, doc *types.Documentation, retainHistory bool) (*types.Documentation, error) {
	return s.AppendDocsFunc(ctx, doc.ProxyID, retainHistory, func(int) (*types.Documentation, error) {
		stored := *doc
		return &stored, nil
	})
}

// AppendDocsFunc is AppendDocs for content that embeds its own version
// number: build runs inside the write transaction with the version the
// document will be stored under.
func (s *BoltStore) AppendDocsFunc(ctx context.Context, proxyID string, retainHistory bool, build func(version int) (*types.Documentation, error)) (*types.Documentation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored *types.Documentation
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProxies).Get([]byte(proxyID)) == nil {
			return notFound("proxy", proxyID)
		}
		b, err := tx.Bucket(bucketDocs).CreateBucketIfNotExists([]byte(proxyID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		doc, err := build(int(seq))
		if err != nil {
			return err
		}
		doc.ProxyID = proxyID
		doc.Version = int(seq)
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if !retainHistory {
			var old [][]byte
			if err := b.ForEach(func(k, _ []byte) error {
				old = append(old, append([]byte(nil), k...))
				return nil
			}); err != nil {
				return err
			}
			for _, k := range old {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}
		stored = doc
		return nil
	})
	if err != nil {
		return nil, storageErr("append docs", err)
	}
	return stored, nil
}

// GetDocs returns one version, or the latest when version is zero.
func (s *BoltStore) GetDocs(ctx context.Context, proxyID string, version int) (*types.Documentation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc types.Documentation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocs).Bucket([]byte(proxyID))
		if b == nil {
			return notFound("documentation for proxy", proxyID)
		}
		var data []byte
		if version <= 0 {
			_, data = b.Cursor().Last()
		} else {
			data = b.Get(itob(uint64(version)))
		}
		if data == nil {
			return notFound("documentation version", fmt.Sprint(version))
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, storageErr("get docs", err)
	}
	return &doc, nil
}

// DocVersions lists stored version numbers in ascending order.
func (s *BoltStore) DocVersions(ctx context.Context, proxyID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocs).Bucket([]byte(proxyID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, int(btoi(k)))
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list doc versions", err)
	}
	return out, nil
}
