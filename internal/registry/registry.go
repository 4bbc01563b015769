package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

// Node is a cached registration. Everything but the expiry is fixed once the
// node is put; the expiry is refreshed in place by heartbeats.
type Node struct {
	GroupName   string
	HostID      string
	HostIP      string
	HostPort    int
	ContextPath string
	NodeType    constraints.NodeType

	expireAt atomic.Int64 // unix nanos
}

func NewNode(group, hostID, hostIP string, hostPort int, contextPath string, nodeType constraints.NodeType, expireAt time.Time) *Node {
	n := &Node{
		GroupName:   group,
		HostID:      hostID,
		HostIP:      hostIP,
		HostPort:    hostPort,
		ContextPath: contextPath,
		NodeType:    nodeType,
	}
	n.expireAt.Store(expireAt.UnixNano())
	return n
}

func (n *Node) ExpireAt() time.Time {
	return time.Unix(0, n.expireAt.Load())
}

// Alive reports whether the lease is still valid at now.
func (n *Node) Alive(now time.Time) bool {
	return n.expireAt.Load() > now.UnixNano()
}

// Registry caches node registrations per group. It never decides liveness;
// callers filter on Node.Alive.
type Registry struct {
	mu     sync.Mutex // serializes creation of group maps
	groups sync.Map   // group name -> *sync.Map (host id -> *Node)
}

func New() *Registry {
	return &Registry{}
}

func (r *Registry) group(name string, create bool) *sync.Map {
	if m, ok := r.groups.Load(name); ok {
		return m.(*sync.Map)
	}
	if !create {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.groups.Load(name); ok {
		return m.(*sync.Map)
	}
	m := &sync.Map{}
	r.groups.Store(name, m)
	return m
}

// Put stores node under its group, replacing any entry with the same host id.
func (r *Registry) Put(node *Node) {
	r.group(node.GroupName, true).Store(node.HostID, node)
}

func (r *Registry) Get(group, hostID string) (*Node, bool) {
	m := r.group(group, false)
	if m == nil {
		return nil, false
	}
	v, ok := m.Load(hostID)
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// AllForGroup returns the group's nodes ordered by host ip, then host id.
// Expired nodes are included.
func (r *Registry) AllForGroup(group string) []*Node {
	m := r.group(group, false)
	if m == nil {
		return nil
	}
	var nodes []*Node
	m.Range(func(_, v any) bool {
		nodes = append(nodes, v.(*Node))
		return true
	})
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].HostIP != nodes[j].HostIP {
			return nodes[i].HostIP < nodes[j].HostIP
		}
		return nodes[i].HostID < nodes[j].HostID
	})
	return nodes
}

func (r *Registry) Remove(group, hostID string) {
	if m := r.group(group, false); m != nil {
		m.Delete(hostID)
	}
}

// RefreshExpiry extends a cached node's lease. A node that is not cached is
// logged and skipped: late heartbeats after a Remove are expected.
func (r *Registry) RefreshExpiry(group, hostID string, expireAt time.Time) bool {
	node, ok := r.Get(group, hostID)
	if !ok {
		logger.Warn("refresh skipped, node not cached",
			zap.String("group", group),
			zap.String("host_id", hostID))
		return false
	}
	node.expireAt.Store(expireAt.UnixNano())
	return true
}

// Groups lists the cached group names in lexical order.
func (r *Registry) Groups() []string {
	var names []string
	r.groups.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups.Range(func(k, _ any) bool {
		r.groups.Delete(k)
		return true
	})
}
