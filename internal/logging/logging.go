// Package logging wraps host modules so every host call is logged with
// its parameters and errno. Guest execution itself never logs; this is an
// embedder-side diagnostic surface.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/wasm"
)

// HostLogger decorates host functions with logrus entries.
type HostLogger struct {
	logger *logrus.Logger
}

// NewHostLogger returns a HostLogger writing through logger.
func NewHostLogger(logger *logrus.Logger) *HostLogger {
	return &HostLogger{logger: logger}
}

// Wrap returns a copy of hm whose functions log one entry per call:
// module, function, raw parameters, and the errno or trap outcome.
func (l *HostLogger) Wrap(moduleName string, hm *wasm.HostModule) *wasm.HostModule {
	wrapped := &wasm.HostModule{
		Functions: make(map[string]*wasm.HostFunction, len(hm.Functions)),
		Globals:   hm.Globals,
	}
	for name, hf := range hm.Functions {
		inner := hf.Fn
		fnName := name
		copied := *hf
		copied.Fn = func(ctx *wasm.ExecutorContext, params []uint64) ([]uint64, error) {
			results, err := inner(ctx, params)
			entry := l.logger.WithFields(logrus.Fields{
				"module":   moduleName,
				"function": fnName,
				"params":   params,
			})
			switch {
			case err != nil:
				if code, ok := wasm.ExitCodeOf(err); ok {
					entry.WithField("exit_code", code).Info("host call exited")
				} else {
					entry.WithError(err).Warn("host call trapped")
				}
			case len(results) == 1:
				entry.WithField("errno", wasip1.ErrnoName(uint32(results[0]))).Debug("host call")
			default:
				entry.Debug("host call")
			}
			return results, err
		}
		wrapped.Functions[name] = &copied
	}
	return wrapped
}
