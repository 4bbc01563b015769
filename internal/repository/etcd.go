package repository

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLock is a distributed mutex tied to an etcd session lease. If the
// holder dies the lease expires after ttl seconds and the lock is released.
type EtcdLock struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func NewEtcdLock(client *clientv3.Client, key string, ttl int) (*EtcdLock, error) {
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, err
	}
	return &EtcdLock{
		session: session,
		mutex:   concurrency.NewMutex(session, key),
	}, nil
}

func (l *EtcdLock) Lock(ctx context.Context) error {
	return l.mutex.Lock(ctx)
}

func (l *EtcdLock) Unlock(ctx context.Context) error {
	return l.mutex.Unlock(ctx)
}

func (l *EtcdLock) Close() error {
	return l.session.Close()
}

// EtcdNodeIDs reserves snowflake node ids as keys bound to a session lease.
// The keys disappear when the process stops keeping the lease alive, so a
// crashed server frees its id after ttl seconds.
type EtcdNodeIDs struct {
	session *concurrency.Session
	prefix  string
	owner   string
}

func NewEtcdNodeIDs(client *clientv3.Client, prefix, owner string, ttl int) (*EtcdNodeIDs, error) {
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, err
	}
	return &EtcdNodeIDs{session: session, prefix: prefix, owner: owner}, nil
}

func (n *EtcdNodeIDs) TryClaim(ctx context.Context, id int64) (bool, error) {
	key := fmt.Sprintf("%s%d", n.prefix, id)
	resp, err := n.session.Client().Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, n.owner, clientv3.WithLease(n.session.Lease()))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// Close revokes the lease and releases the claimed id.
func (n *EtcdNodeIDs) Close() error {
	return n.session.Close()
}

// EtcdHealth checks that the cluster answers reads.
func EtcdHealth(ctx context.Context, kv clientv3.KV) error {
	_, err := kv.Get(ctx, "health_check")
	return err
}
