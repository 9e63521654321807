// Package taskcontext implements the task identity codec: the string form
// exchanged with the resource manager as a task id, and the in-memory
// TaskMetaInfo/TaskContext types it round-trips to.
package taskcontext

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Delimiter separates fields in the wire form of a TaskContext or
// TaskMetaInfo. It was chosen to be extremely unlikely to appear inside a
// job name.
const Delimiter = "@-@"

// PlaceholderSlaveID is the sentinel slave id used on a Context built
// before assignment has resolved a real slave. It must never collide with
// a real slave id; callers should never launch a task whose Context still
// carries this value.
const PlaceholderSlaveID = "fake-slave"

// ExecutionType distinguishes why a task is being launched.
type ExecutionType string

const (
	Ready    ExecutionType = "READY"
	Failover ExecutionType = "FAILOVER"
	Daemon   ExecutionType = "DAEMON"
)

func (t ExecutionType) Valid() bool {
	switch t {
	case Ready, Failover, Daemon:
		return true
	default:
		return false
	}
}

// MetaInfo identifies one shard of one job. It is stable across retries and
// failover relaunches of the same shard.
type MetaInfo struct {
	JobName      string
	ShardingItem int
}

// String renders "jobName@-@shardingItem".
func (m MetaInfo) String() string {
	return fmt.Sprintf("%s%s%d", m.JobName, Delimiter, m.ShardingItem)
}

// MetaInfoFrom parses a MetaInfo from its first two @-@ delimited fields.
// Extra trailing fields (as found in a full TaskContext string) are ignored,
// so it is safe to call on a full task id.
func MetaInfoFrom(s string) (MetaInfo, error) {
	fields := strings.Split(s, Delimiter)
	if len(fields) < 2 {
		return MetaInfo{}, fmt.Errorf("taskcontext: malformed meta info %q", s)
	}
	item, err := strconv.Atoi(fields[1])
	if err != nil {
		return MetaInfo{}, fmt.Errorf("taskcontext: malformed sharding item in %q: %w", s, err)
	}
	return MetaInfo{JobName: fields[0], ShardingItem: item}, nil
}

// Context is the full identity of a launched (or about-to-be-launched) task:
// its shard, why it is running, which slave it landed on, and an opaque
// uuid distinguishing this particular launch attempt.
type Context struct {
	MetaInfo      MetaInfo
	ExecutionType ExecutionType
	SlaveID       string
	UUID          string
}

// New builds a Context with a fresh uuid.
func New(jobName string, shardingItem int, execType ExecutionType, slaveID string) Context {
	return Context{
		MetaInfo:      MetaInfo{JobName: jobName, ShardingItem: shardingItem},
		ExecutionType: execType,
		SlaveID:       slaveID,
		UUID:          strings.ReplaceAll(uuid.New().String(), "-", ""),
	}
}

// String renders "jobName@-@shardingItem@-@executionType@-@slaveId@-@uuid".
func (c Context) String() string {
	return fmt.Sprintf("%s%s%s%s%s%s%s%s%s",
		c.MetaInfo.JobName, Delimiter,
		strconv.Itoa(c.MetaInfo.ShardingItem), Delimiter,
		string(c.ExecutionType), Delimiter,
		c.SlaveID, Delimiter,
		c.UUID)
}

// From parses a Context from its wire string. It accepts both the full
// five-field form and the four-field form that omits the uuid (the uuid is
// left empty in that case).
func From(s string) (Context, error) {
	fields := strings.Split(s, Delimiter)
	if len(fields) != 4 && len(fields) != 5 {
		return Context{}, fmt.Errorf("taskcontext: malformed task context %q", s)
	}

	item, err := strconv.Atoi(fields[1])
	if err != nil {
		return Context{}, fmt.Errorf("taskcontext: malformed sharding item in %q: %w", s, err)
	}

	execType := ExecutionType(fields[2])
	if !execType.Valid() {
		return Context{}, fmt.Errorf("taskcontext: unknown execution type %q in %q", fields[2], s)
	}

	ctx := Context{
		MetaInfo:      MetaInfo{JobName: fields[0], ShardingItem: item},
		ExecutionType: execType,
		SlaveID:       fields[3],
	}
	if len(fields) == 5 {
		ctx.UUID = fields[4]
	}
	return ctx, nil
}

// WithSlaveID returns a copy of c bound to a real slave, preserving the
// meta info, execution type and uuid. Used once assignment has resolved the
// placeholder slave id on a pre-launch Context.
func (c Context) WithSlaveID(slaveID string) Context {
	c.SlaveID = slaveID
	return c
}

// TaskName renders the human-readable "jobName@-@shardingItem" label used
// for TaskInfo.name, distinct from the full task id.
func (c Context) TaskName() string {
	return c.MetaInfo.String()
}

// ExecutorID derives a stable, non-cryptographic id shared by every task of
// the same job built from the same appURL, so the resource manager can
// reuse a warm executor instance across shard launches.
func ExecutorID(jobName, appURL string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(appURL))
	return fmt.Sprintf("%s%s%x", jobName, Delimiter, h.Sum32())
}
