package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rookline/chessync/internal/support/exception"
	"github.com/rookline/chessync/internal/support/logger"
)

// Package config provides utilities for loading application configuration
// from embedded YAML and environment variables.

const moduleName = "config"

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
//
// Parameters:
//
//	envFilePath: The path to the .env file.
//	embeddedConfig: The embedded configuration bytes.
//
// Returns:
//
//	A pointer to the loaded Config and an error if loading fails.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// Expand ${VAR} placeholders in the embedded YAML before decoding.
	expander := NewOsEnvironmentExpander()
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to expand environment variables in embedded config", err)
	}

	// Parse the embedded YAML into a scratch Config so typed values come
	// through the YAML decoder, then merge onto the defaults.
	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to unmarshal embedded config", err)
	}
	mergeConfig(cfg, &yamlConfig)

	// Environment variables take precedence over both.
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to load config from environment variables", err)
	}

	if err := validate(cfg); err != nil {
		return nil, exception.NewPermanentError(moduleName, "invalid configuration", err)
	}
	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup;
// the application supplies the loaded *Config to the Fx graph afterwards.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// validate rejects configurations the pipeline cannot run with.
func validate(cfg *Config) error {
	c := &cfg.Chessync
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if mode := strings.ToUpper(c.Sync.Mode); mode != "FULL" && mode != "INCREMENTAL" {
		return fmt.Errorf("sync.mode must be FULL or INCREMENTAL, got %q", c.Sync.Mode)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be at least 1, got %g", c.Retry.Factor)
	}
	if c.Storage.Provider != "local" && c.Storage.Provider != "gcs" {
		return fmt.Errorf("storage.provider must be local or gcs, got %q", c.Storage.Provider)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// when they are not zero values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeChessyncConfig(&destConfig.Chessync, &sourceConfig.Chessync)
}

// mergeChessyncConfig merges source into dest.
func mergeChessyncConfig(dest, source *ChessyncConfig) {
	if source.Sync.BatchSize != 0 {
		dest.Sync.BatchSize = source.Sync.BatchSize
	}
	if source.Sync.Mode != "" {
		dest.Sync.Mode = source.Sync.Mode
	}
	if source.Sync.StaleAfterHours != 0 {
		dest.Sync.StaleAfterHours = source.Sync.StaleAfterHours
	}

	mergeRetryConfig(&dest.Retry, &source.Retry)
	mergeSourceConfig(&dest.Source, &source.Source)
	mergeSystemConfig(&dest.System, &source.System)

	if source.Infrastructure.SyncDBRef != "" {
		dest.Infrastructure.SyncDBRef = source.Infrastructure.SyncDBRef
	}

	if source.Storage.Provider != "" {
		dest.Storage.Provider = source.Storage.Provider
	}
	if source.Storage.Directory != "" {
		dest.Storage.Directory = source.Storage.Directory
	}
	if source.Storage.Bucket != "" {
		dest.Storage.Bucket = source.Storage.Bucket
	}
	if source.Storage.Prefix != "" {
		dest.Storage.Prefix = source.Storage.Prefix
	}

	if source.Export.Enabled {
		dest.Export.Enabled = true
	}

	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}
	if source.Tracing.SampleRatio != 0 {
		dest.Tracing.SampleRatio = source.Tracing.SampleRatio
	}

	if source.Server.Enabled {
		dest.Server.Enabled = true
	}
	if source.Server.Addr != "" {
		dest.Server.Addr = source.Server.Addr
	}

	if source.Databases != nil {
		if dest.Databases == nil {
			dest.Databases = make(map[string]DatabaseConfig)
		}
		for key, value := range source.Databases {
			dest.Databases[key] = value
		}
	}
}

// mergeRetryConfig merges source into dest.
func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.MaxInterval != 0 {
		dest.MaxInterval = source.MaxInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
	if source.UnavailableWait != 0 {
		dest.UnavailableWait = source.UnavailableWait
	}
}

// mergeSourceConfig merges source into dest.
func mergeSourceConfig(dest, source *SourceConfig) {
	if source.BaseURL != "" {
		dest.BaseURL = source.BaseURL
	}
	if source.APIKey != "" {
		dest.APIKey = source.APIKey
	}
	if source.TimeoutSeconds != 0 {
		dest.TimeoutSeconds = source.TimeoutSeconds
	}
	if source.PageSize != 0 {
		dest.PageSize = source.PageSize
	}
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
//
// Parameters:
//
//	val: The reflect.Value of the struct to populate.
//	prefix: The prefix for environment variable names (e.g., "CHESSYNC_RETRY_").
//
// Returns: An error if any field cannot be set.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// map[string]struct fields pick up nested environment variables,
			// e.g. CHESSYNC_DATABASE_METADATA_HOST.
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: for the field `Databases map[string]DatabaseConfig`, the variable
// `CHESSYNC_DATABASE_METADATA_HOST=localhost` sets the `Host` field of the
// entry keyed "metadata".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		keyPartWithValue := strings.TrimPrefix(env, prefix)
		parts := strings.SplitN(keyPartWithValue, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0]
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		if !structVal.IsValid() {
			structVal = reflect.New(elemType).Elem()
		} else {
			// Map values are not addressable; copy before mutating.
			copied := reflect.New(elemType).Elem()
			copied.Set(structVal)
			structVal = copied
		}

		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a specific struct field from an environment variable.
// The fieldName is matched case-insensitively against each field's `yaml` tag.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := structVal.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		if strings.EqualFold(yamlTag, fieldName) {
			return setField(field, value)
		}
	}
	return nil // Unknown field names are not an error.
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
