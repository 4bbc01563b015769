package constraints

// RetryStatus is the lifecycle state of a retry task.
type RetryStatus int

const (
	RetryRunning  RetryStatus = 0
	RetryFinish   RetryStatus = 1
	RetryMaxCount RetryStatus = 2
)

func (s RetryStatus) Valid() bool {
	return s == RetryRunning || s == RetryFinish || s == RetryMaxCount
}

func (s RetryStatus) String() string {
	switch s {
	case RetryRunning:
		return "RUNNING"
	case RetryFinish:
		return "FINISH"
	case RetryMaxCount:
		return "MAX_COUNT"
	default:
		return "UNKNOWN"
	}
}

// NodeType distinguishes business client nodes from coordinator servers.
type NodeType int

const (
	NodeClient NodeType = 1
	NodeServer NodeType = 2
)

func (t NodeType) String() string {
	if t == NodeServer {
		return "server"
	}
	return "client"
}

// BackOff identifies a wait strategy on a scene.
const (
	BackOffDelayLevel = 1
	BackOffFixed      = 2
	BackOffCron       = 3
	BackOffRandom     = 4
)

// Task types recorded on tasks and logs.
const (
	TaskTypeRetry    = 1
	TaskTypeCallback = 2
)

const (
	StatusNo  = 0
	StatusYes = 1
)

// ResultSuccess is the status a delegated call must answer with.
const (
	ResultFailure = 0
	ResultSuccess = 1
)
