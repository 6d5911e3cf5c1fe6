package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Mongo   MongoConfig   `json:"mongo"`
	Minio   MinioConfig   `json:"minio"`
	Redis   RedisConfig   `json:"redis"`
	LLM     LLMConfig     `json:"llm"`
	Uploads UploadsConfig `json:"uploads"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Secure    bool   `json:"secure"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// LLMConfig configures the completion provider endpoint.
type LLMConfig struct {
	Endpoint       string  `json:"endpoint"`
	APIKey         string  `json:"api_key"`
	DefaultModel   string  `json:"default_model"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

type UploadsConfig struct {
	Prefix               string `json:"prefix"`
	PresignExpirySeconds int    `json:"presign_expiry_seconds"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
