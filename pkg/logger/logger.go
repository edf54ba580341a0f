package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"election-service/pkg/config"
)

// Logger wraps logrus with additional functionality
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// NewLogger creates a new logger instance
func NewLogger(level, logFile string) *Logger {
	return New(config.LoggingConfig{
		Level:      level,
		File:       logFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
}

// New builds a logger from the logging section of the config
func New(cfg config.LoggingConfig) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	l := &Logger{
		Logger: log,
		fields: make(logrus.Fields),
	}
	l.SetFormatter(cfg.Format)

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Printf("Failed to create log directory: %v\n", err)
		} else {
			// Use lumberjack for log rotation
			fileLogger := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize, // MB
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge, // days
				Compress:   cfg.Compress,
			}

			// Write to both file and stdout
			log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
		}
	}

	return l
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log, fields: make(logrus.Fields)}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newFields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value

	return &Logger{
		Logger: l.Logger,
		fields: newFields,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		Logger: l.Logger,
		fields: newFields,
	}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// WithError attaches err under the "error" key
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// entry resolves args either as key-value pairs or as printf arguments.
func (l *Logger) entry(args []interface{}) (*logrus.Entry, []interface{}) {
	entry := l.Logger.WithFields(l.fields)
	if len(args) == 0 || len(args)%2 != 0 {
		return entry, args
	}
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			return entry, args
		}
		fields[key] = args[i+1]
	}
	return entry.WithFields(fields), nil
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	entry, rest := l.entry(args)
	if len(rest) > 0 {
		entry.Debugf(msg, rest...)
		return
	}
	entry.Debug(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	entry, rest := l.entry(args)
	if len(rest) > 0 {
		entry.Infof(msg, rest...)
		return
	}
	entry.Info(msg)
}

// Warning logs a warning message
func (l *Logger) Warning(msg string, args ...interface{}) {
	entry, rest := l.entry(args)
	if len(rest) > 0 {
		entry.Warningf(msg, rest...)
		return
	}
	entry.Warning(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	entry, rest := l.entry(args)
	if len(rest) > 0 {
		entry.Errorf(msg, rest...)
		return
	}
	entry.Error(msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	entry := l.Logger.WithFields(l.fields)
	if len(args) > 0 {
		entry.Fatalf(msg, args...)
	} else {
		entry.Fatal(msg)
	}
}

// Writer returns an io.Writer for the logger
func (l *Logger) Writer() io.Writer {
	return l.Logger.Writer()
}

// HTTPLogger logs HTTP request details
func (l *Logger) HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		entry := l.WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"path":        path,
			"query":       raw,
			"status_code": status,
			"latency":     latency,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"request_id":  c.GetString("request_id"),
		})

		if status >= 500 {
			entry.Error("HTTP request completed with server error")
		} else if status >= 400 {
			entry.Warning("HTTP request completed with client error")
		} else {
			entry.Info("HTTP request completed successfully")
		}
	}
}

// SecurityLogger logs security-related events
func (l *Logger) SecurityLogger(event, userID, details string) {
	l.WithFields(map[string]interface{}{
		"event_type": "security",
		"event":      event,
		"user_id":    userID,
		"details":    details,
		"timestamp":  time.Now().Unix(),
	}).Warning("Security event logged")
}

// AuditLogger logs audit events
func (l *Logger) AuditLogger(action, userID, resource, details string) {
	l.WithFields(map[string]interface{}{
		"event_type": "audit",
		"action":     action,
		"user_id":    userID,
		"resource":   resource,
		"details":    details,
		"timestamp":  time.Now().Unix(),
	}).Info("Audit event logged")
}

// VotingLogger logs voting-specific events. The voter is never logged, only the receipt.
func (l *Logger) VotingLogger(event, electionID, receipt, details string) {
	l.WithFields(map[string]interface{}{
		"event_type":  "voting",
		"event":       event,
		"election_id": electionID,
		"receipt":     receipt,
		"details":     details,
		"timestamp":   time.Now().Unix(),
	}).Info("Voting event logged")
}

// PerformanceLogger logs performance metrics
func (l *Logger) PerformanceLogger(operation string, duration time.Duration, success bool) {
	l.WithFields(map[string]interface{}{
		"event_type": "performance",
		"operation":  operation,
		"duration":   duration.Milliseconds(),
		"success":    success,
		"timestamp":  time.Now().Unix(),
	}).Debug("Performance event logged")
}

// RequestLogger creates a middleware that logs request details with context
func (l *Logger) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Set("logger", l.WithField("request_id", requestID))
		c.Header("X-Request-ID", requestID)

		l.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"client_ip":  c.ClientIP(),
		}).Debug("Request started")

		c.Next()
	}
}

// GetLoggerFromContext retrieves the logger from Gin context
func GetLoggerFromContext(c *gin.Context) *Logger {
	if logger, exists := c.Get("logger"); exists {
		if l, ok := logger.(*Logger); ok {
			return l
		}
	}
	return NewLogger("info", "")
}

// SetFormatter sets the log formatter
func (l *Logger) SetFormatter(format string) {
	switch format {
	case "json":
		l.Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		l.Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}
