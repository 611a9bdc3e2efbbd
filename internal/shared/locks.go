package shared

import "fmt"

// RepostJobLockKey builds the redis key guarding a single repost job run.
func RepostJobLockKey(jobID string) string {
	return fmt.Sprintf("stock:repost:%s:lock", jobID)
}

// RepostSweepLockKey builds the redis key guarding the due-job sweep.
func RepostSweepLockKey() string {
	return "stock:repost:sweep:lock"
}
