package config

import "errors"

var (
	// ErrConfigNotFound indicates the config file path does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidConfig indicates the config file failed to parse.
	ErrInvalidConfig = errors.New("invalid config file")

	// ErrInvalidPipeline indicates a pipeline definition failed validation.
	ErrInvalidPipeline = errors.New("invalid pipeline definition")
)
