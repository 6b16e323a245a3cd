// Package utils holds small helpers shared by the command line
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultThreshold is used when a threshold flag cannot be parsed
const DefaultThreshold = 0.8

// GetDefaultDatabasePath returns simfinder.db next to the executable
func GetDefaultDatabasePath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "simfinder.db"
	}
	return filepath.Join(filepath.Dir(exePath), "simfinder.db")
}

// GetDefaultConfigPath returns the per-user config file location
func GetDefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "simfinder.yaml"
	}
	return filepath.Join(dir, "simfinder", "config.yaml")
}

// ParseThreshold parses and validates a threshold in [0,1]. On failure it
// returns DefaultThreshold together with the error.
func ParseThreshold(thresholdStr string) (float64, error) {
	parsedThreshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil || parsedThreshold < 0 || parsedThreshold > 1 {
		return DefaultThreshold, fmt.Errorf("invalid threshold value '%s', using default (%.2f)", thresholdStr, DefaultThreshold)
	}
	return parsedThreshold, nil
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
