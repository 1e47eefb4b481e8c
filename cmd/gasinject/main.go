// Command gasinject injects gas-metering charges into a Wasm 1.0 module.
//
// Usage:
//
//	gasinject -in module.wasm -out metered.wasm
//	gasinject -in module.wasm -digest
//	gasinject -in module.wasm -out metered.wasm -profile no-floats -grow-cost 10 -metrics-addr :9100
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/near/wasm-utils/cache"
	"github.com/near/wasm-utils/internal/log"
	"github.com/near/wasm-utils/metrics"
	"github.com/near/wasm-utils/wasmmodule"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gasinject:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gasinject",
		Usage: "inject gas-metering charges into a Wasm 1.0 module",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Required: true, Usage: "input .wasm file path"},
			&cli.StringFlag{Name: "out", Usage: "output .wasm file path (omit with -digest)"},
			&cli.StringFlag{Name: "profile", Value: "default", Usage: "rule-set profile: default, no-floats, strict"},
			&cli.UintFlag{Name: "grow-cost", Value: 0, Usage: "gas charged per page by memory.grow (0 disables dynamic metering)"},
			&cli.BoolFlag{Name: "digest", Usage: "print the cache digest instead of writing output"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, error"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address until the run completes"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logger := log.New(levelFromFlag(c.String("log-level"))).Module("cmd")

	oracle, err := profile(c.String("profile"), uint32(c.Uint("grow-cost")))
	if err != nil {
		return err
	}

	reg := metrics.New("gasinject")
	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: reg.Handler()}
		go func() {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	inBytes, err := os.ReadFile(c.String("in"))
	if err != nil {
		return fmt.Errorf("gasinject: read input: %w", err)
	}
	mod, err := wasmmodule.Parse(inBytes)
	if err != nil {
		return fmt.Errorf("gasinject: parse input: %w", err)
	}

	injCache := cache.New(oracle, cache.DefaultCapacity, reg)
	out, digest, err := injCache.Inject(mod, c.String("profile"))
	if err != nil {
		return fmt.Errorf("gasinject: inject: %w", err)
	}
	logger.Info("injected", "profile", c.String("profile"), "input_bytes", len(inBytes))

	if c.Bool("digest") {
		fmt.Printf("%x\n", digest)
		return nil
	}

	outPath := c.String("out")
	if outPath == "" {
		return fmt.Errorf("gasinject: -out is required unless -digest is set")
	}
	if err := os.WriteFile(outPath, out.Encode(), 0o644); err != nil {
		return fmt.Errorf("gasinject: write output: %w", err)
	}
	return nil
}

// levelFromFlag maps a human-typed level name to the slog.Level log.New
// expects, via the package's own LogLevel parsing.
func levelFromFlag(s string) slog.Level {
	switch log.LevelFromString(s) {
	case log.DEBUG:
		return slog.LevelDebug
	case log.WARN:
		return slog.LevelWarn
	case log.ERROR, log.FATAL:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
