// Package engine constructs the ProcessFunc backing task execution: either
// the built-in scripted engine or a remote browser-automation engine reached
// over HTTP.
package engine

import (
	"fmt"
	"strings"

	"github.com/ent0n29/navi/internal/processor"
)

type Config struct {
	Mode    string
	HTTPURL string
}

func New(cfg Config) (processor.ProcessFunc, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "mock"
	}

	switch mode {
	case "mock", "scripted":
		return processor.NewScriptedEngine(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("engine HTTP url is required for http mode")
		}
		return NewHTTPEngine(cfg.HTTPURL).Process, nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
