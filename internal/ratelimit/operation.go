package ratelimit

import "time"

// Operation identifies a class of rate-limited activity.
type Operation string

const (
	OpChannelMessage Operation = "channel_message"
	OpToolExec       Operation = "tool_exec"
	OpWebFetch       Operation = "web_fetch"
	OpFileWrite      Operation = "file_write"
	OpFileRead       Operation = "file_read"
	OpSubagentSpawn  Operation = "subagent_spawn"
	OpCronJob        Operation = "cron_job"
)

// Limit is a (capacity, refill rate) pair. RefillRate is in tokens per second.
type Limit struct {
	Capacity   float64
	RefillRate float64
}

// Per builds a Limit allowing n operations per period.
func Per(n float64, period time.Duration) Limit {
	if period <= 0 {
		return Limit{Capacity: n}
	}
	return Limit{Capacity: n, RefillRate: n / period.Seconds()}
}

// Period returns the time a full bucket takes to refill from empty.
// Zero refill rates report one minute.
func (l Limit) Period() time.Duration {
	if l.RefillRate <= 0 {
		return time.Minute
	}
	return time.Duration(l.Capacity / l.RefillRate * float64(time.Second))
}

// DefaultLimit applies to operations missing from the table.
var DefaultLimit = Per(100, time.Minute)

// DefaultLimits returns the built-in per-operation table.
func DefaultLimits() map[Operation]Limit {
	return map[Operation]Limit{
		OpChannelMessage: Per(10, time.Minute),
		OpToolExec:       Per(5, time.Minute),
		OpWebFetch:       Per(20, time.Minute),
		OpFileWrite:      Per(30, time.Minute),
		OpFileRead:       Per(60, time.Minute),
		OpSubagentSpawn:  Per(3, 5*time.Minute),
		OpCronJob:        Per(10, time.Hour),
	}
}
