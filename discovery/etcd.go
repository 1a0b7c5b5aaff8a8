// Package discovery stores and loads wave topologies in etcd. Each vertex is
// one key, <prefix>/<id>, whose value is the comma-separated neighbor list.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

const DefaultPrefix = "/wave/topology"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Getter is the part of clientv3.KV that LoadTopology needs.
type Getter interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// Putter is the part of clientv3.KV that PublishTopology needs.
type Putter interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
}

func vertexKey(prefix string, id wave.NodeID) string {
	return strings.TrimSuffix(prefix, "/") + "/" + string(id)
}

// PublishTopology writes every vertex of g under prefix.
func PublishTopology(ctx context.Context, kv Putter, prefix string, g topology.Graph) error {
	for _, v := range g.Vertices() {
		if _, err := kv.Put(ctx, vertexKey(prefix, v), EncodeNeighbors(g.Neighbors(v))); err != nil {
			return fmt.Errorf("discovery: put %s: %w", v, err)
		}
	}
	return nil
}

// LoadTopology reads all vertices under prefix and validates them as a graph.
func LoadTopology(ctx context.Context, kv Getter, prefix string) (topology.Graph, error) {
	base := strings.TrimSuffix(prefix, "/") + "/"
	resp, err := kv.Get(ctx, base, clientv3.WithPrefix())
	if err != nil {
		return topology.Graph{}, fmt.Errorf("discovery: get %s: %w", base, err)
	}
	adj := make(map[wave.NodeID][]wave.NodeID, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), base)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		adj[wave.NodeID(id)] = DecodeNeighbors(string(kv.Value))
	}
	if len(adj) == 0 {
		return topology.Graph{}, fmt.Errorf("%w: no vertices under %s", topology.ErrInvalidGraph, base)
	}
	return topology.New(adj)
}

func EncodeNeighbors(nbs []wave.NodeID) string {
	parts := make([]string, len(nbs))
	for i, n := range nbs {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

func DecodeNeighbors(v string) []wave.NodeID {
	out := []wave.NodeID{}
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, wave.NodeID(p))
		}
	}
	return out
}
