// Package diskcheck guards on-disk stores against running out of space.
package diskcheck

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// Ensure creates dir if needed and verifies the volume has at least
// minFreeGB gigabytes free. minFreeGB == 0 only logs current usage.
func Ensure(dir string, minFreeGB uint64, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("diskcheck: create %s: %w", dir, err)
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("diskcheck: stat %s: %w", dir, err)
	}
	freeGB := usage.Free / (1 << 30)
	log.WithFields(logrus.Fields{
		"path":         dir,
		"free_gb":      freeGB,
		"used_percent": fmt.Sprintf("%.1f", usage.UsedPercent),
	}).Info("disk usage")
	if minFreeGB > 0 && freeGB < minFreeGB {
		return fmt.Errorf("diskcheck: %s has %d GB free, need %d GB", dir, freeGB, minFreeGB)
	}
	return nil
}
