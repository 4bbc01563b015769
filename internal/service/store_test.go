package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"retryflow/internal/model"
	"retryflow/internal/repository"
	"retryflow/pkg/constraints"

	"gorm.io/gorm"
)

// memStore is an in-memory repository.Store. Transactions are serialized and
// roll back by restoring a snapshot. The running-key and dead-letter
// (group_name, task_id) unique indexes are enforced like the MySQL schema does.
type memStore struct {
	st *memState
}

type memState struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *memData

	// blindPrecheck makes CountRunning always report zero so the unique
	// index is the only thing left guarding idempotency.
	blindPrecheck bool
	// failTaskDelete is returned by the task deletes when set.
	failTaskDelete error
	// onLockByStatus runs as another connection's committed write right
	// after LockByStatus returns. Its effect survives a rollback.
	onLockByStatus func(d *memData)
	outside        []func(d *memData)
}

type memData struct {
	nodes  map[string]model.ServerNode
	groups map[string]model.GroupConfig
	scenes map[string]model.SceneConfig
	tasks  map[repository.Partition]map[int64]model.RetryTask
	logs   []model.RetryTaskLog
	msgs   []model.RetryTaskLogMessage
	dead   map[repository.Partition][]model.RetryDeadLetter
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{st: &memState{d: &memData{
		nodes:  map[string]model.ServerNode{},
		groups: map[string]model.GroupConfig{},
		scenes: map[string]model.SceneConfig{},
		tasks:  map[repository.Partition]map[int64]model.RetryTask{},
		dead:   map[repository.Partition][]model.RetryDeadLetter{},
	}}}
}

func (d *memData) clone() *memData {
	c := &memData{
		nodes:  make(map[string]model.ServerNode, len(d.nodes)),
		groups: make(map[string]model.GroupConfig, len(d.groups)),
		scenes: make(map[string]model.SceneConfig, len(d.scenes)),
		tasks:  make(map[repository.Partition]map[int64]model.RetryTask, len(d.tasks)),
		logs:   append([]model.RetryTaskLog(nil), d.logs...),
		msgs:   append([]model.RetryTaskLogMessage(nil), d.msgs...),
		dead:   make(map[repository.Partition][]model.RetryDeadLetter, len(d.dead)),
		nextID: d.nextID,
	}
	for k, v := range d.nodes {
		c.nodes[k] = v
	}
	for k, v := range d.groups {
		c.groups[k] = v
	}
	for k, v := range d.scenes {
		c.scenes[k] = v
	}
	for p, m := range d.tasks {
		cm := make(map[int64]model.RetryTask, len(m))
		for id, t := range m {
			cm[id] = t
		}
		c.tasks[p] = cm
	}
	for p, l := range d.dead {
		c.dead[p] = append([]model.RetryDeadLetter(nil), l...)
	}
	return c
}

func (d *memData) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *memData) partition(p repository.Partition) map[int64]model.RetryTask {
	m, ok := d.tasks[p]
	if !ok {
		m = map[int64]model.RetryTask{}
		d.tasks[p] = m
	}
	return m
}

func (s *memStore) Nodes() repository.NodeInterface             { return memNodes{s.st} }
func (s *memStore) Configs() repository.ConfigInterface         { return memConfigs{s.st} }
func (s *memStore) Tasks() repository.RetryTaskInterface        { return memTasks{s.st} }
func (s *memStore) TaskLogs() repository.RetryTaskLogInterface  { return memLogs{s.st} }
func (s *memStore) DeadLetters() repository.DeadLetterInterface { return memDead{s.st} }
func (s *memStore) PingContext(context.Context) error           { return nil }

func (s *memStore) Transaction(_ context.Context, fn func(tx repository.Store) error) error {
	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	s.st.mu.Lock()
	snapshot := s.st.d.clone()
	s.st.outside = nil
	s.st.mu.Unlock()

	if err := fn(s); err != nil {
		s.st.mu.Lock()
		s.st.d = snapshot
		for _, w := range s.st.outside {
			w(s.st.d)
		}
		s.st.mu.Unlock()
		return err
	}
	return nil
}

// test helpers

func (s *memStore) addGroup(g model.GroupConfig) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if g.GroupStatus == 0 {
		g.GroupStatus = constraints.StatusYes
	}
	if g.IDGeneratorMode == "" {
		g.IDGeneratorMode = "snowflake"
	}
	s.st.d.groups[g.GroupName] = g
}

func (s *memStore) addScene(sc model.SceneConfig) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.d.scenes[sc.GroupName+"|"+sc.SceneName] = sc
}

func (s *memStore) allTasks(group string) []model.RetryTask {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []model.RetryTask
	for _, m := range s.st.d.tasks {
		for _, t := range m {
			if t.GroupName == group {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) taskPartitions(group string) []repository.Partition {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []repository.Partition
	for p, m := range s.st.d.tasks {
		for _, t := range m {
			if t.GroupName == group {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (s *memStore) deadLetters(group string) []model.RetryDeadLetter {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []model.RetryDeadLetter
	for _, l := range s.st.d.dead {
		for _, dl := range l {
			if dl.GroupName == group {
				out = append(out, dl)
			}
		}
	}
	return out
}

func (s *memStore) logs() ([]model.RetryTaskLog, []model.RetryTaskLogMessage) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return append([]model.RetryTaskLog(nil), s.st.d.logs...), append([]model.RetryTaskLogMessage(nil), s.st.d.msgs...)
}

func (s *memStore) nodeRows() []model.ServerNode {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []model.ServerNode
	for _, n := range s.st.d.nodes {
		out = append(out, n)
	}
	return out
}

// nodes

type memNodes struct{ st *memState }

func (r memNodes) Upsert(_ context.Context, node *model.ServerNode) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	key := node.HostID + "|" + node.HostIP
	if old, ok := r.st.d.nodes[key]; ok {
		node.ID = old.ID
	} else {
		node.ID = r.st.d.id()
	}
	r.st.d.nodes[key] = *node
	return nil
}

func (r memNodes) ListByGroups(_ context.Context, groups []string) ([]model.ServerNode, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	want := map[string]bool{}
	for _, g := range groups {
		want[g] = true
	}
	var out []model.ServerNode
	for _, n := range r.st.d.nodes {
		if want[n.GroupName] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r memNodes) DeleteExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for k, node := range r.st.d.nodes {
		if node.ExpireAt.Before(before) {
			delete(r.st.d.nodes, k)
			n++
		}
	}
	return n, nil
}

func (r memNodes) WithTx(*gorm.DB) repository.NodeInterface { return r }

// configs

type memConfigs struct{ st *memState }

func (r memConfigs) GetGroup(_ context.Context, name string) (*model.GroupConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	g, ok := r.st.d.groups[name]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (r memConfigs) ListGroupNames(context.Context) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var names []string
	for name, g := range r.st.d.groups {
		if g.GroupStatus == constraints.StatusYes {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r memConfigs) GetScene(_ context.Context, group, scene string) (*model.SceneConfig, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.d.scenes[group+"|"+scene]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

func (r memConfigs) CreateScene(_ context.Context, scene *model.SceneConfig) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	key := scene.GroupName + "|" + scene.SceneName
	if _, ok := r.st.d.scenes[key]; ok {
		return repository.ErrDuplicateKey
	}
	scene.ID = r.st.d.id()
	r.st.d.scenes[key] = *scene
	return nil
}

func (r memConfigs) WithTx(*gorm.DB) repository.ConfigInterface { return r }

// tasks

type memTasks struct{ st *memState }

func runningClash(m map[int64]model.RetryTask, t *model.RetryTask) bool {
	if t.RunningKey == nil {
		return false
	}
	for id, o := range m {
		if id != t.ID && o.RunningKey != nil && o.GroupName == t.GroupName &&
			o.SceneName == t.SceneName && *o.RunningKey == *t.RunningKey {
			return true
		}
	}
	return false
}

func (r memTasks) CountRunning(_ context.Context, p repository.Partition, group, scene, idem string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.blindPrecheck {
		return 0, nil
	}
	var n int64
	for _, t := range r.st.d.partition(p) {
		if t.GroupName == group && t.SceneName == scene && t.IdempotentID == idem && t.RetryStatus == constraints.RetryRunning {
			n++
		}
	}
	return n, nil
}

func (r memTasks) Create(_ context.Context, p repository.Partition, task *model.RetryTask) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m := r.st.d.partition(p)
	if runningClash(m, task) {
		return 0, repository.ErrDuplicateKey
	}
	task.ID = r.st.d.id()
	m[task.ID] = *task
	return 1, nil
}

func (r memTasks) FindByID(_ context.Context, p repository.Partition, group string, id int64) (*model.RetryTask, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.d.partition(p)[id]
	if !ok || t.GroupName != group {
		return nil, nil
	}
	return &t, nil
}

func (r memTasks) Update(_ context.Context, p repository.Partition, task *model.RetryTask) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m := r.st.d.partition(p)
	old, ok := m[task.ID]
	if !ok || old.GroupName != task.GroupName {
		return 0, nil
	}
	if runningClash(m, task) {
		return 0, repository.ErrDuplicateKey
	}
	old.RetryStatus = task.RetryStatus
	old.RetryCount = task.RetryCount
	old.NextTriggerAt = task.NextTriggerAt
	old.ExecutorName = task.ExecutorName
	old.RunningKey = task.RunningKey
	old.UpdatedAt = time.Now()
	m[task.ID] = old
	return 1, nil
}

func (r memTasks) UpdateExecutorName(_ context.Context, p repository.Partition, group string, ids []int64, executor string, status constraints.RetryStatus) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m := r.st.d.partition(p)
	var n int64
	for _, id := range ids {
		t, ok := m[id]
		if !ok || t.GroupName != group {
			continue
		}
		t.ExecutorName = executor
		t.SetStatus(status)
		if runningClash(m, &t) {
			return n, repository.ErrDuplicateKey
		}
		m[id] = t
		n++
	}
	return n, nil
}

func (r memTasks) DeleteByIDs(_ context.Context, p repository.Partition, group string, ids []int64) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.failTaskDelete != nil {
		return 0, r.st.failTaskDelete
	}
	m := r.st.d.partition(p)
	var n int64
	for _, id := range ids {
		if t, ok := m[id]; ok && t.GroupName == group {
			delete(m, id)
			n++
		}
	}
	return n, nil
}

func (r memTasks) DeleteByIDsInStatus(_ context.Context, p repository.Partition, group string, ids []int64, status constraints.RetryStatus) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.failTaskDelete != nil {
		return 0, r.st.failTaskDelete
	}
	m := r.st.d.partition(p)
	var n int64
	for _, id := range ids {
		if t, ok := m[id]; ok && t.GroupName == group && t.RetryStatus == status {
			delete(m, id)
			n++
		}
	}
	return n, nil
}

func (r memTasks) DeleteByStatus(_ context.Context, p repository.Partition, group string, status constraints.RetryStatus) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m := r.st.d.partition(p)
	var n int64
	for id, t := range m {
		if t.GroupName == group && t.RetryStatus == status {
			delete(m, id)
			n++
		}
	}
	return n, nil
}

func (r memTasks) filter(p repository.Partition, keep func(model.RetryTask) bool) []model.RetryTask {
	var out []model.RetryTask
	for _, t := range r.st.d.partition(p) {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memTasks) LockByStatus(_ context.Context, p repository.Partition, group string, status constraints.RetryStatus) ([]model.RetryTask, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.filter(p, func(t model.RetryTask) bool {
		return t.GroupName == group && t.RetryStatus == status
	})
	if w := r.st.onLockByStatus; w != nil {
		w(r.st.d)
		r.st.outside = append(r.st.outside, w)
	}
	return out, nil
}

func (r memTasks) List(_ context.Context, p repository.Partition, q repository.TaskQuery) ([]model.RetryTask, int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.filter(p, func(t model.RetryTask) bool {
		return t.GroupName == q.GroupName &&
			(q.SceneName == "" || t.SceneName == q.SceneName) &&
			(q.BizNo == "" || t.BizNo == q.BizNo) &&
			(q.IdempotentID == "" || t.IdempotentID == q.IdempotentID) &&
			(q.UniqueID == "" || t.UniqueID == q.UniqueID) &&
			(q.RetryStatus == nil || t.RetryStatus == *q.RetryStatus)
	})
	return out, int64(len(out)), nil
}

func (r memTasks) ListDue(_ context.Context, p repository.Partition, group string, now time.Time, limit int) ([]model.RetryTask, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.filter(p, func(t model.RetryTask) bool {
		return t.GroupName == group && t.RetryStatus == constraints.RetryRunning && !t.NextTriggerAt.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextTriggerAt.Before(out[j].NextTriggerAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memTasks) WithTx(*gorm.DB) repository.RetryTaskInterface { return r }

// task logs

type memLogs struct{ st *memState }

func (r memLogs) Create(_ context.Context, log *model.RetryTaskLog) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	log.ID = r.st.d.id()
	r.st.d.logs = append(r.st.d.logs, *log)
	return 1, nil
}

func (r memLogs) MarkStatus(_ context.Context, group, uniqueID string, status constraints.RetryStatus) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for i := range r.st.d.logs {
		if r.st.d.logs[i].GroupName == group && r.st.d.logs[i].UniqueID == uniqueID {
			r.st.d.logs[i].RetryStatus = status
			n++
		}
	}
	return n, nil
}

func (r memLogs) AppendMessage(_ context.Context, msg *model.RetryTaskLogMessage) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	msg.ID = r.st.d.id()
	r.st.d.msgs = append(r.st.d.msgs, *msg)
	return nil
}

func (r memLogs) ListMessages(_ context.Context, group, uniqueID string) ([]model.RetryTaskLogMessage, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []model.RetryTaskLogMessage
	for _, m := range r.st.d.msgs {
		if m.GroupName == group && m.UniqueID == uniqueID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r memLogs) WithTx(*gorm.DB) repository.RetryTaskLogInterface { return r }

// dead letters

type memDead struct{ st *memState }

func (r memDead) InsertIgnore(_ context.Context, p repository.Partition, letters []*model.RetryDeadLetter) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, l := range letters {
		exists := false
		for _, o := range r.st.d.dead[p] {
			if o.GroupName == l.GroupName && o.TaskID == l.TaskID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		l.ID = r.st.d.id()
		r.st.d.dead[p] = append(r.st.d.dead[p], *l)
		n++
	}
	return n, nil
}

func (r memDead) CountByTaskIDs(_ context.Context, p repository.Partition, group string, taskIDs []int64) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range taskIDs {
		want[id] = true
	}
	var n int64
	for _, o := range r.st.d.dead[p] {
		if o.GroupName == group && want[o.TaskID] {
			n++
		}
	}
	return n, nil
}

func (r memDead) List(_ context.Context, p repository.Partition, group string, offset, limit int) ([]model.RetryDeadLetter, int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []model.RetryDeadLetter
	for _, o := range r.st.d.dead[p] {
		if o.GroupName == group {
			out = append(out, o)
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r memDead) WithTx(*gorm.DB) repository.DeadLetterInterface { return r }
