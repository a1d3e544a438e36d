package types

type Config struct {
	Environment     string `envconfig:"ENVIRONMENT" default:"development"`
	ServerPort      uint   `envconfig:"SERVER_PORT" default:"8080"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	ReadTimeoutSec  uint   `envconfig:"READ_TIMEOUT_SEC" default:"10"`
	WriteTimeoutSec uint   `envconfig:"WRITE_TIMEOUT_SEC" default:"30"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`

	// Document storage (S3 or an S3 compatible endpoint such as MinIO)
	StorageBucketName string `envconfig:"STORAGE_BUCKET_NAME" default:"medrecords-documents"`
	StorageEndpoint   string `envconfig:"STORAGE_ENDPOINT"`

	// Fax gateway
	FaxGatewayURL       string `envconfig:"FAX_GATEWAY_URL" default:"https://api.humblefax.com"`
	FaxGatewayAccessKey string `envconfig:"FAX_GATEWAY_ACCESS_KEY"`
	FaxGatewaySecretKey string `envconfig:"FAX_GATEWAY_SECRET_KEY"`
	FaxGatewayTimeout   uint   `envconfig:"FAX_GATEWAY_TIMEOUT_SEC" default:"60"`
	FaxSenderName       string `envconfig:"FAX_SENDER_NAME" default:"Medical Records Request"`
	FaxReplyNumber      string `envconfig:"FAX_REPLY_NUMBER"`
	WebhookSecret       string `envconfig:"WEBHOOK_SECRET"`

	// OCR engine sidecar
	OCREngineURL  string `envconfig:"OCR_ENGINE_URL" default:"http://localhost:8090"`
	OCRTimeoutSec uint   `envconfig:"OCR_TIMEOUT_SEC" default:"120"`

	// Matching
	MatchNameThreshold float64 `envconfig:"MATCH_NAME_THRESHOLD" default:"0.85"`

	// Background work
	WorkerCount         int  `envconfig:"WORKER_COUNT" default:"4"`
	WorkerQueueSize     int  `envconfig:"WORKER_QUEUE_SIZE" default:"256"`
	DispatchConcurrency int  `envconfig:"DISPATCH_CONCURRENCY" default:"4"`
	SweepIntervalSec    uint `envconfig:"SWEEP_INTERVAL_SEC" default:"300"`
	StaleCompileSec     uint `envconfig:"STALE_COMPILE_SEC" default:"900"`
	StaleDispatchSec    uint `envconfig:"STALE_DISPATCH_SEC" default:"900"`

	// Signed download links for compiled documents (base64 encoded)
	// openssl rand -base64 32
	// to generate values
	DownloadHashKey   string `envconfig:"DOWNLOAD_HASH_KEY"`  // 32 or 64 bytes
	DownloadBlockKey  string `envconfig:"DOWNLOAD_BLOCK_KEY"` // 16, 24, or 32 bytes
	DownloadMaxAgeSec int    `envconfig:"DOWNLOAD_MAX_AGE_SEC" default:"86400"`
}
