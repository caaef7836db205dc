//go:build tools

// Package tools imports development dependencies to ensure they're tracked in go.mod.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)