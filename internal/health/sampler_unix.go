//go:build unix

package health

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// sampleCPUPercent measures elapsed process CPU time over a 1-second
// wall-clock window, normalized by core count, per §4.7.
func sampleCPUPercent() (float64, error) {
	var start, end unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &start); err != nil {
		return 0, fmt.Errorf("health: getrusage: %w", err)
	}
	wallStart := time.Now()
	time.Sleep(time.Second)
	if err := unix.Getrusage(unix.RUSAGE_SELF, &end); err != nil {
		return 0, fmt.Errorf("health: getrusage: %w", err)
	}

	wallElapsed := time.Since(wallStart).Seconds()
	cpuElapsed := (timevalSeconds(end.Utime) + timevalSeconds(end.Stime)) -
		(timevalSeconds(start.Utime) + timevalSeconds(start.Stime))

	cores := float64(runtime.NumCPU())
	if wallElapsed <= 0 || cores <= 0 {
		return 0, nil
	}
	return (cpuElapsed / wallElapsed / cores) * 100, nil
}

func timevalSeconds(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// sampleMemBytes reads resident set size from /proc/self/statm, the
// portable-enough way to get RSS on Linux without a cgo dependency.
func sampleMemBytes() (int64, error) {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("health: statm: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 256), 256)
	if !scanner.Scan() {
		return 0, fmt.Errorf("health: statm: empty")
	}
	var size, resident int64
	if _, err := fmt.Sscanf(scanner.Text(), "%d %d", &size, &resident); err != nil {
		return 0, fmt.Errorf("health: statm: parse: %w", err)
	}
	return resident * int64(os.Getpagesize()), nil
}
