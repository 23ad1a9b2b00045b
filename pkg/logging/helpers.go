// pkg/logging/helpers.go - Helper functions for common pipeline logging patterns

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogStageStart logs the start of a pipeline stage.
func LogStageStart(pipeline, stage string) {
	LogStructured(LevelInfo, "Stage started", map[string]interface{}{
		"pipeline": pipeline,
		"stage":    stage,
		"status":   "started",
	})
}

// LogStageComplete logs successful completion of a pipeline stage.
func LogStageComplete(pipeline, stage string, duration time.Duration) {
	LogStructured(LevelInfo, "Stage completed", map[string]interface{}{
		"pipeline": pipeline,
		"stage":    stage,
		"status":   "completed",
		"duration": duration.Round(time.Millisecond).String(),
	})
}

// LogStageFailed logs a fatal stage failure.
func LogStageFailed(pipeline, stage string, err error) {
	LogStructured(LevelError, "Stage failed", map[string]interface{}{
		"pipeline": pipeline,
		"stage":    stage,
		"status":   "failed",
		"error":    err.Error(),
	})
}

// LogWarning logs a non-fatal problem collected during a pipeline run.
func LogWarning(pipeline, stage, warning string) {
	LogStructured(LevelWarn, warning, map[string]interface{}{
		"pipeline": pipeline,
		"stage":    stage,
		"status":   "warning",
	})
}

// LogSubprocessLine records one line of output from a child process.
func LogSubprocessLine(command, line string) {
	Debug(line, "source", command)
}

// FallbackDir is the log folder used when no other location is available.
func FallbackDir() string {
	return filepath.Join(os.TempDir(), "lexsetup-logs")
}

// InitForRun sets up file logging for one command invocation. Each -v raises
// the configured level by one step. When dir cannot be used the logs go to a
// lexsetup-logs folder in the temp dir; the returned path is the directory
// actually in use.
func InitForRun(dir, level string, verbosity int, fileName, component string) (string, error) {
	lvl := ParseLevel(level) + LogLevel(verbosity)
	if lvl > LevelDebug {
		lvl = LevelDebug
	}

	cfg := LoggerConfig{
		BaseDir:    dir,
		FileName:   fileName,
		Component:  component,
		Level:      lvl,
		EnableJSON: true,
	}
	err := ReInit(cfg)
	if err == nil {
		return dir, nil
	}

	cfg.BaseDir = FallbackDir()
	if err2 := ReInit(cfg); err2 != nil {
		return "", fmt.Errorf("%v; fallback: %w", err, err2)
	}
	return cfg.BaseDir, err
}
