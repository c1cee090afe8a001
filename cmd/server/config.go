package main

import "time"

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=3000"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/qr-relay"`
	PublicationTTL       time.Duration `env:"PUBLICATION_TTL,default=10s"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=32"`
	JWTSecret            string        `env:"JWT_SECRET"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	TLSCertFile          string        `env:"TLS_CERT_FILE"`
	TLSKeyFile           string        `env:"TLS_KEY_FILE"`
}
