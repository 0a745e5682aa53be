package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.JSONFormatter{})
	Log.SetOutput(os.Stdout)
	Log.SetLevel(logrus.InfoLevel)
}

// Configure sets up the logger from the application environment name and an
// optional explicit level. An explicit level always wins over the env preset.
func Configure(appEnv, logLevel string) {
	env := strings.ToLower(strings.TrimSpace(appEnv))
	level := strings.ToLower(strings.TrimSpace(logLevel))

	switch {
	case level != "":
		setLogLevelFromString(level)
	case env == "production" || env == "prod":
		Log.SetLevel(logrus.WarnLevel)
	case env == "development" || env == "dev":
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	case env == "debug":
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	default:
		Log.SetLevel(logrus.InfoLevel)
	}

	Log.WithFields(logrus.Fields{
		"app_env":   env,
		"log_level": Log.GetLevel().String(),
	}).Debug("logger configured")
}

func setLogLevelFromString(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		Log.SetLevel(logrus.InfoLevel)
		Log.Warnf("Unknown log level '%s', defaulting to info", level)
		return
	}
	Log.SetLevel(parsed)
}
