package worker

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// newLockToken produces an opaque lease identifier. Uniqueness, not
// any particular format, is the only contract on it; a UUID prefixed
// with the process id makes a stalled lease easy to trace back to the
// worker process that took it, in logs.
func newLockToken() string {
	return fmt.Sprintf("pid%d-%s", os.Getpid(), uuid.NewString())
}
