package queue

// Config holds configuration for the queue layer.
type Config struct {
	// Provider selects the backend: "memory" (default), "rabbitmq", or
	// "sqs". Unrecognized values silently fall back to memory.
	Provider string `mapstructure:"provider"`

	// RabbitMQ connection settings. URL wins when set; otherwise the
	// discrete fields are assembled into an amqp:// URL, with "guest"
	// credentials as the placeholder default.
	RabbitMQURL      string `mapstructure:"rabbitmq_url"`
	RabbitMQHost     string `mapstructure:"rabbitmq_host"`
	RabbitMQPort     int    `mapstructure:"rabbitmq_port"`
	RabbitMQUsername string `mapstructure:"rabbitmq_username"`
	RabbitMQPassword string `mapstructure:"rabbitmq_password"`

	// SQS settings. Region and both credential halves are required when
	// the sqs provider is selected; Endpoint overrides the AWS endpoint
	// for local stacks (e.g. localstack / elasticmq).
	SQSRegion          string `mapstructure:"sqs_region"`
	SQSEndpoint        string `mapstructure:"sqs_endpoint"`
	SQSAccessKeyID     string `mapstructure:"sqs_access_key_id"`
	SQSSecretAccessKey string `mapstructure:"sqs_secret_access_key"`
}

// DefaultConfig returns a Config with the memory backend selected and
// RabbitMQ placeholder defaults.
func DefaultConfig() Config {
	return Config{
		Provider:         "memory",
		RabbitMQHost:     "localhost",
		RabbitMQPort:     5672,
		RabbitMQUsername: "guest",
		RabbitMQPassword: "guest",
	}
}
