package logconfig

import (
	"os"
	"strings"

	myLogger "github.com/sirupsen/logrus"
)

// Log output goes to stderr so that stdout only carries command results.
func textFormatter() *myLogger.TextFormatter {
	return &myLogger.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	}
}

// ConfigDebugLogger also shows callers and every satisfaction attempt.
func ConfigDebugLogger() {
	myLogger.SetOutput(os.Stderr)
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(textFormatter())
}

func ConfigInfoLogger() {
	myLogger.SetOutput(os.Stderr)
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(textFormatter())
}

// ConfigProductionLogger keeps warnings and errors only, as JSON.
func ConfigProductionLogger() {
	myLogger.SetOutput(os.Stderr)
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.WarnLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigByLevel maps "debug", "info" and "production" to the configs
// above. Any other logrus level name is applied to the info config.
func ConfigByLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "trace":
		ConfigDebugLogger()
	case "", "info":
		ConfigInfoLogger()
	case "production", "prod":
		ConfigProductionLogger()
	default:
		parsed, err := myLogger.ParseLevel(level)
		if err != nil {
			return err
		}
		ConfigInfoLogger()
		myLogger.SetLevel(parsed)
	}
	return nil
}
