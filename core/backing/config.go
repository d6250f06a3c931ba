package backing

// Driver names for the backing store variants.
const (
	DriverFilesystem = "fs"
	DriverS3         = "s3"
)

// Config holds configuration for the backing store.
type Config struct {
	// Driver selects the backing store variant (fs, s3).
	Driver string `mapstructure:"driver" default:"fs"`
	// Root is the filesystem root directory (fs driver only).
	Root string `mapstructure:"root" default:"./cache"`
	// Endpoint is the URL of the object storage service (s3 driver only).
	Endpoint string `mapstructure:"endpoint" default:"localhost:9000"`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	// UseSSL indicates whether to use SSL/TLS for connections.
	UseSSL bool `mapstructure:"use_ssl" default:"false"`
	// Bucket is the name of the bucket holding cache entries.
	Bucket string `mapstructure:"bucket" default:"cache"`
	// Region is the location of the bucket (e.g., us-east-1).
	Region string `mapstructure:"region" default:""`
	// TimeoutSeconds is the connection timeout in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}
