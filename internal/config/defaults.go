package config

const (
	defaultDataDir           = "~/.local/share/conveyor"
	defaultLogDir            = "~/.local/share/conveyor/logs"
	defaultVisibilityTimeout = 120
	defaultMaxDeliveries     = 5
	defaultReceiveIdleWait   = 2
	defaultWorkerCount       = 4
	defaultMaxAttempts       = 3
	defaultPollBackoffBase   = 5
	defaultPollBackoffCap    = 60
	defaultPollBackoffJitter = 0.2
	defaultCallRetryAttempts = 3
	defaultConverterTimeout  = 30
	defaultInputSubject      = "conveyor.inputs"
	defaultCompletionSubject = "conveyor.completions"
	defaultNtfyTimeout       = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultAPIBind           = "127.0.0.1:7519"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Queue: Queue{
			VisibilityTimeout: defaultVisibilityTimeout,
			MaxDeliveries:     defaultMaxDeliveries,
			ReceiveIdleWait:   defaultReceiveIdleWait,
		},
		Workflow: Workflow{
			WorkerCount:       defaultWorkerCount,
			MaxAttempts:       defaultMaxAttempts,
			PollBackoffBase:   defaultPollBackoffBase,
			PollBackoffCap:    defaultPollBackoffCap,
			PollBackoffJitter: defaultPollBackoffJitter,
			CallRetryAttempts: defaultCallRetryAttempts,
		},
		Converter: Converter{
			RequestTimeout: defaultConverterTimeout,
		},
		Bus: Bus{
			InputSubject:      defaultInputSubject,
			CompletionSubject: defaultCompletionSubject,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		API: API{
			Bind: defaultAPIBind,
		},
	}
}
