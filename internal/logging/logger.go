package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var workerLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Workers only log at debug/trace; kept separate so `--log-level debug`
	// does not flood the orchestrator output with per-request noise.
	workerLogger = logrus.New()
	workerLogger.SetOutput(os.Stdout)
	workerLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "worker_msg",
		},
	})
	workerLogger.SetLevel(logrus.WarnLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetWorkerLogger() *logrus.Logger {
	return workerLogger
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetWorkerLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	workerLogger.SetLevel(logLevel)
	return nil
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
}

// SetOutput redirects both loggers, used by tests and by `report` to keep stdout clean.
func SetOutput(out io.Writer) {
	logger.SetOutput(out)
	workerLogger.SetOutput(out)
}
