package config

// TelemetryConfig configures logging and tracing.
type TelemetryConfig struct {
	ServiceName  string // OTEL_SERVICE_NAME
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT; tracing stays no-op when empty
	OTLPInsecure bool   // OTEL_EXPORTER_OTLP_INSECURE
	LogLevel     string // LOG_LEVEL (debug, info, warn, error)
	Development  bool   // console encoder instead of JSON
}

func LoadTelemetryConfig(env string) TelemetryConfig {
	return TelemetryConfig{
		ServiceName:  envStr("OTEL_SERVICE_NAME", "hub-lending"),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		Development:  env == "dev" || env == "development" || env == "test",
	}
}
