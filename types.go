package rrls

import (
	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/control"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/listener"
)

// ProcessingFunction is the caller-supplied unit of work. It may
// block; the worker pool's size bounds concurrency, not this
// function's duration.
type ProcessingFunction = entry.ProcessingFunction

// Future is the handle Submit returns: poll or block for the
// eventual result, or request cancellation.
type Future = entry.Future

// EventListener receives best-effort lifecycle notifications. See
// internal/listener for the full method set.
type EventListener = listener.EventListener

// ControlState is the explicit form ShutdownWithState accepts, for
// callers who need finer control than ShutdownFor's shortcut flags
// offer.
type ControlState = control.State

// Config is the service's flat tunable surface. Load it
// with LoadConfig or ConfigFromMap, then pass it to New via WithConfig.
type Config = config.Config

// LoadConfig reads Config from the environment (RRLS_* variables).
func LoadConfig() (Config, error) { return config.LoadConfig() }

// ConfigFromMap projects the flat string configuration keys described
// onto a Config.
func ConfigFromMap(m map[string]string) (Config, error) { return config.FromMap(m) }
