package constants

// Default queue processing values
const (
	DefaultQueueBatchSize        = 10
	DefaultQueueMaxAttempts      = 5
	DefaultQueueIdleSleepSec     = 1
	DefaultQueueErrorSleepSec    = 5
	DefaultBacklogThreshold      = 5
	DefaultBacklogAgeMinutes     = 5
	DefaultStaleInProgressMinSec = 600
	DefaultDedupWindowSec        = 60
)

// Default rate limiter values
const (
	DefaultRateWindowSec        = 3600
	DefaultRateMaxRequests      = 100
	DefaultBurstWindowSec       = 60
	DefaultBurstLimit           = 20
	DefaultBlockDurationSec     = 3600
	DefaultRapidFireCount       = 10
	DefaultRapidFireWindowSec   = 30
	DefaultSustainedCount       = 50
	DefaultSustainedWindowSec   = 600
	DefaultRateMarksCap         = 1000
)

// Default reminder scheduler values
const (
	DefaultReminderIdleWaitSec = 60
	DefaultReminderBusyWaitSec = 30
)

// Default resource pool values
const (
	DefaultPoolSize    = 5
	DefaultPoolPrewarm = 2
)

// Default process lock values
const (
	DefaultLockMaxAgeSec  = 300
	DefaultLockTimeoutSec = 10
)

// Default timeout and retry values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultRetentionDays         = 30
)

// Conversation context values
const (
	DefaultHistoryTurns = 12
)

// Encryption parameters
const (
	EncryptionSalt       = "chatcourier-db-salt-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)

// Privacy settings
const (
	DefaultOwnerMaskLength = 4
)
