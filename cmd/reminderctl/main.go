// Command reminderctl runs a single reminder, overdue or daily pass and
// exits. It is meant for external schedulers such as a Kubernetes CronJob.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand(&RootOptions{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
