package discovery

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

// memKV is a map-backed stand-in for the etcd KV API. It ignores options and
// treats every Get as a prefix scan.
type memKV struct {
	data map[string]string
	err  error
}

func (m *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (m *memKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k])})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func TestPublishThenLoad(t *testing.T) {
	kv := &memKV{data: map[string]string{}}
	g := topology.Star(4)
	ctx := context.Background()

	if err := PublishTopology(ctx, kv, DefaultPrefix+"/", g); err != nil {
		t.Fatalf("PublishTopology: %v", err)
	}
	if got := kv.data[DefaultPrefix+"/0"]; got != "1,2,3" {
		t.Fatalf("center key = %q, want 1,2,3", got)
	}

	back, err := LoadTopology(ctx, kv, DefaultPrefix)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if !reflect.DeepEqual(back.Vertices(), g.Vertices()) {
		t.Fatalf("Vertices = %v, want %v", back.Vertices(), g.Vertices())
	}
	for _, v := range g.Vertices() {
		if !reflect.DeepEqual(back.Neighbors(v), g.Neighbors(v)) {
			t.Fatalf("Neighbors(%s) = %v, want %v", v, back.Neighbors(v), g.Neighbors(v))
		}
	}
}

func TestLoadSkipsNestedKeys(t *testing.T) {
	kv := &memKV{data: map[string]string{
		"/t/a":       "b",
		"/t/b":       "a",
		"/t/a/extra": "zzz",
	}}
	g, err := LoadTopology(context.Background(), kv, "/t")
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}
}

func TestLoadEmptyPrefix(t *testing.T) {
	kv := &memKV{data: map[string]string{}}
	if _, err := LoadTopology(context.Background(), kv, "/none"); !errors.Is(err, topology.ErrInvalidGraph) {
		t.Fatalf("err = %v, want ErrInvalidGraph", err)
	}
}

func TestLoadPropagatesClientError(t *testing.T) {
	boom := errors.New("etcd down")
	kv := &memKV{data: map[string]string{}, err: boom}
	if _, err := LoadTopology(context.Background(), kv, "/t"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if err := PublishTopology(context.Background(), kv, "/t", topology.Path(2)); !errors.Is(err, boom) {
		t.Fatalf("publish err = %v, want wrapped %v", err, boom)
	}
}

func TestDecodeNeighbors(t *testing.T) {
	got := DecodeNeighbors(" a, b,,c ")
	want := []wave.NodeID{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DecodeNeighbors = %v, want %v", got, want)
	}
	if got := DecodeNeighbors(""); len(got) != 0 {
		t.Fatalf("DecodeNeighbors(\"\") = %v, want empty", got)
	}
}
