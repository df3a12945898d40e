package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers the /debug/pprof handlers
)

// pprofAddr is loopback-only. The profiler must never be reachable from
// the network the hub serves on.
const pprofAddr = "localhost:6060"

// startPprof serves the runtime profiler in the background. A listen
// failure is logged, never fatal.
func startPprof() {
	go func() {
		Logger().Info("pprof_listen", slog.String("addr", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			Logger().Error("pprof_failed", slog.String("error", err.Error()))
		}
	}()
}
