// Sentinel files are the cross-process state between stages. This is
// the one accessor that reads them.

package pipeline

import (
	"path"

	"github.com/yumyai/ssngen/internal/util"
)

const (
	SentinelBlastFailed  = "blast.failed"
	SentinelGraphsFailed = "graphs.failed"
	SentinelCompleted    = "1.out.completed"
)

// RunStatus summarizes the sentinels present in a working directory.
type RunStatus struct {
	BlastFailed  bool
	GraphsFailed bool
	Completed    bool
}

// ReadRunStatus inspects the working directory's sentinel files.
// Completed is the single success marker.
func ReadRunStatus(dir string) RunStatus {
	return RunStatus{
		BlastFailed:  util.FileExists(path.Join(dir, SentinelBlastFailed)),
		GraphsFailed: util.FileExists(path.Join(dir, SentinelGraphsFailed)),
		Completed:    util.FileExists(path.Join(dir, SentinelCompleted)),
	}
}

// WriteSentinel drops a zero-byte sentinel into the working directory.
func WriteSentinel(dir, name string) error {
	return util.Touch(path.Join(dir, name))
}
