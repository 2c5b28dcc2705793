package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creat233/finderid/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of the server config. Durations accept
// both "15m" strings and integer nanoseconds. Absent keys keep the
// current value.
type fileConfig struct {
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	RealtimeAddr                 *string         `json:"realtime_addr" yaml:"realtime_addr"`
	DatabaseDSN                  *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                    *string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	S3RootUser                   *string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                     *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3PublicURL                  *string         `json:"s3_public_url" yaml:"s3_public_url"`
	PresignValidity              *timex.Duration `json:"presign_validity" yaml:"presign_validity"`
	LogLevel                     *string         `json:"log_level" yaml:"log_level"`
	LogFormat                    *string         `json:"log_format" yaml:"log_format"`
}

// LoadFile overlays c with a JSON or YAML file, chosen by extension.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, f := range []struct {
		dst *string
		src *string
	}{
		{&c.EndpointAddrGRPC, fc.EndpointAddrGRPC},
		{&c.RealtimeAddr, fc.RealtimeAddr},
		{&c.DatabaseDSN, fc.DatabaseDSN},
		{&c.SecretKey, fc.SecretKey},
		{&c.S3RootUser, fc.S3RootUser},
		{&c.S3RootPassword, fc.S3RootPassword},
		{&c.S3Bucket, fc.S3Bucket},
		{&c.S3Region, fc.S3Region},
		{&c.S3BaseEndpoint, fc.S3BaseEndpoint},
		{&c.S3PublicURL, fc.S3PublicURL},
		{&c.LogLevel, fc.LogLevel},
		{&c.LogFormat, fc.LogFormat},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}

	for _, f := range []struct {
		dst *time.Duration
		src *timex.Duration
	}{
		{&c.AccessTokenValidityDuration, fc.AccessTokenValidityDuration},
		{&c.RefreshTokenValidityDuration, fc.RefreshTokenValidityDuration},
		{&c.PresignValidity, fc.PresignValidity},
	} {
		if f.src != nil {
			*f.dst = f.src.Duration
		}
	}
	return nil
}

// PublicBaseURL is the base of the URLs returned for uploaded files.
func (c *Config) PublicBaseURL() string {
	base := c.S3PublicURL
	if base == "" {
		base = strings.TrimSuffix(c.S3BaseEndpoint, "/") + "/" + c.S3Bucket
	}
	return strings.TrimSuffix(base, "/")
}
