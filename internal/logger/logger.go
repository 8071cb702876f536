package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"rate-limit-engine/internal/domain"

	"github.com/sirupsen/logrus"
)

// StructuredLogger implementa a interface domain.Logger
type StructuredLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// contextKey define chaves para contexto
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ClientIDKey  contextKey = "client_id"
	ClientIPKey  contextKey = "client_ip"
	UserAgentKey contextKey = "user_agent"
)

// NewLogger cria uma nova instância do logger estruturado
func NewLogger(level, format string) domain.Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput é como NewLogger mas escreve no writer informado
func NewLoggerWithOutput(level, format string, out io.Writer) domain.Logger {
	logger := logrus.New()

	// Configura o nível de log
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Configura o formato de saída
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.SetOutput(out)

	return &StructuredLogger{
		logger: logger,
		fields: make(logrus.Fields),
	}
}

// Debug registra uma mensagem de debug
func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields)
}

// Info registra uma mensagem informativa
func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields)
}

// Warn registra uma mensagem de warning
func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields)
}

// Error registra uma mensagem de erro
func (l *StructuredLogger) Error(msg string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logWithFields(logrus.ErrorLevel, msg, fields)
}

// WithContext cria um novo logger com contexto da requisição
func (l *StructuredLogger) WithContext(ctx context.Context) domain.Logger {
	return l.WithFields(l.extractContextFields(ctx))
}

// WithFields cria um novo logger com campos específicos
func (l *StructuredLogger) WithFields(fields map[string]interface{}) domain.Logger {
	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &StructuredLogger{
		logger: l.logger,
		fields: newFields,
	}
}

// logWithFields registra uma mensagem com campos específicos
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields map[string]interface{}) {
	if !l.logger.IsLevelEnabled(level) {
		return
	}

	allFields := make(logrus.Fields, len(l.fields)+len(fields)+2)
	for k, v := range l.fields {
		allFields[k] = v
	}
	for k, v := range fields {
		allFields[k] = v
	}

	allFields["component"] = "admission_engine"
	if version := os.Getenv("APP_VERSION"); version != "" {
		allFields["version"] = version
	}

	l.logger.WithFields(allFields).Log(level, msg)
}

// extractContextFields extrai campos relevantes do contexto
func (l *StructuredLogger) extractContextFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{})

	if ctx == nil {
		return fields
	}

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		fields["request_id"] = requestID
	}

	// client id pode ser uma chave de API: só os primeiros 8 caracteres
	if clientID, ok := ctx.Value(ClientIDKey).(string); ok && clientID != "" {
		fields["client_id"] = MaskClientID(clientID)
	}

	if clientIP := ctx.Value(ClientIPKey); clientIP != nil {
		fields["client_ip"] = clientIP
	}

	if userAgent := ctx.Value(UserAgentKey); userAgent != nil {
		fields["user_agent"] = userAgent
	}

	return fields
}

// LogAdmissionEvent registra uma decisão de admissão
func (l *StructuredLogger) LogAdmissionEvent(identity domain.Identity, decision *domain.Decision, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["verb"] = identity.HTTPVerb
	fields["path"] = identity.Path
	fields["allowed"] = decision.Allowed
	fields["remaining"] = decision.Result.Remaining
	if identity.ClientIP.IsValid() {
		fields["client_ip"] = identity.ClientIP.String()
	}
	if identity.ClientID != "" {
		fields["client_id"] = MaskClientID(identity.ClientID)
	}
	if decision.Rule != nil {
		fields["endpoint"] = decision.Rule.Endpoint
		fields["period"] = decision.Rule.Period
		fields["limit"] = decision.Rule.Limit
	}

	switch {
	case decision.Exempt:
		l.Debug("Request exempt from rate limiting", fields)
	case decision.Allowed:
		l.Debug("Rate limit check passed", fields)
	default:
		l.Info("Rate limit exceeded", fields)
	}
}

// LogConfigEvent registra eventos de configuração
func (l *StructuredLogger) LogConfigEvent(eventType string, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["event_type"] = eventType

	l.Info("Configuration event", details)
}

// LogStorageEvent registra eventos do storage
func (l *StructuredLogger) LogStorageEvent(operation string, key string, success bool, latency float64, err error) {
	fields := map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"success":    success,
		"latency_ms": latency,
	}

	if err != nil {
		l.Error("Storage operation failed", err, fields)
	} else {
		l.Debug("Storage operation completed", fields)
	}
}

// LogHTTPRequest registra uma requisição HTTP concluída
func (l *StructuredLogger) LogHTTPRequest(method, path string, status int, latency time.Duration, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["method"] = method
	fields["path"] = path
	fields["status"] = status
	fields["latency_ms"] = float64(latency.Microseconds()) / 1000

	if status >= 500 {
		l.Warn("HTTP request failed", fields)
		return
	}
	l.Info("HTTP request completed", fields)
}

// MaskClientID mascara o client id para logs
func MaskClientID(clientID string) string {
	if clientID == "" {
		return ""
	}
	if len(clientID) <= 8 {
		return clientID + "***"
	}
	return clientID[:8] + "***"
}

// ContextWithRequestInfo adiciona informações da requisição ao contexto
func ContextWithRequestInfo(ctx context.Context, requestID, clientID, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	if clientID != "" {
		ctx = context.WithValue(ctx, ClientIDKey, clientID)
	}
	if clientIP != "" {
		ctx = context.WithValue(ctx, ClientIPKey, clientIP)
	}
	ctx = context.WithValue(ctx, UserAgentKey, userAgent)
	return ctx
}

// GetRequestID extrai o request ID do contexto
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
