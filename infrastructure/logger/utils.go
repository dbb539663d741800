package logger

import (
	"time"
)

// LogAndMeasureExecutionTime logs the start of functionName and returns a
// closure that logs its end along with the time it took.
func LogAndMeasureExecutionTime(log *Logger, functionName string) (onEnd func()) {
	start := time.Now()
	log.Debugf("%s start", functionName)
	return func() {
		log.Debugf("%s end. Took: %s", functionName, time.Since(start))
	}
}
