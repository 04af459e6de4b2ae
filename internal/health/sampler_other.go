//go:build !unix

package health

import "time"

// sampleCPUPercent has no portable implementation outside unix hosts;
// the agent still runs, just without a CPU sample in the snapshot.
func sampleCPUPercent() (float64, error) {
	time.Sleep(time.Second)
	return 0, nil
}

func sampleMemBytes() (int64, error) {
	return 0, nil
}
