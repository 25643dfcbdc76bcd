package temporalx

import (
	"strings"
	"time"

	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

const defaultName = "featurepulse"

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace  bool
	NamespaceRetentionDays int

	DialTimeout    time.Duration
	DialMaxWait    time.Duration
	DialBackoff    time.Duration
	DialBackoffMax time.Duration

	// WorkerConcurrency caps concurrent activity and workflow task executions.
	WorkerConcurrency int
}

// Enabled reports whether job runs should be executed through Temporal.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Address) != "" }

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Address:   strings.TrimSpace(envutil.String("TEMPORAL_ADDRESS", "", log)),
		Namespace: strings.TrimSpace(envutil.String("TEMPORAL_NAMESPACE", defaultName, log)),
		TaskQueue: strings.TrimSpace(envutil.String("TEMPORAL_TASK_QUEUE", defaultName, log)),

		ClientCertPath: strings.TrimSpace(envutil.String("TEMPORAL_CLIENT_CERT_PATH", "", log)),
		ClientKeyPath:  strings.TrimSpace(envutil.String("TEMPORAL_CLIENT_KEY_PATH", "", log)),
		ClientCAPath:   strings.TrimSpace(envutil.String("TEMPORAL_CLIENT_CA_PATH", "", log)),

		AutoRegisterNamespace:  envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		NamespaceRetentionDays: envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7, log),

		DialTimeout:    envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5, log),
		DialMaxWait:    envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60, log),
		DialBackoff:    envutil.Millis("TEMPORAL_DIAL_BACKOFF_MS", 250, log),
		DialBackoffMax: envutil.Millis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5000, log),

		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4, log),
	}
}

func (c Config) hasTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
