package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/statehub/examples/todo"
	"github.com/wilhg/statehub/pkg/errmodel"
	"github.com/wilhg/statehub/pkg/executor"
	otto "github.com/wilhg/statehub/pkg/otel"
	"github.com/wilhg/statehub/pkg/reducer"
	"github.com/wilhg/statehub/pkg/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP state inspector over a todo store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := otto.Init(ctx, otto.Config{
				ServiceName:    cfg.Tracing.ServiceName,
				ServiceVersion: version,
				UseStdout:      cfg.Tracing.Stdout,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			ex, err := executor.Lookup(cfg.Store.Executor, logger)
			if err != nil {
				return err
			}
			if serial, ok := ex.(*executor.Serial); ok {
				defer func() { _ = serial.Close(context.Background()) }()
			}

			s, err := todo.NewStore(logger, store.WithName(cfg.Store.Name), store.WithExecutor(ex))
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           otelhttp.NewHandler(buildMux(s, logger), "statehub"),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("inspector listening", slog.String("addr", cfg.Server.Addr), slog.String("store", s.Name()))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides config)")
	return cmd
}

// reservedPrefix marks action types used internally, such as the init
// sentinel and thunks.
const reservedPrefix = "@@statehub/"

type dispatchResponse struct {
	Accepted bool   `json:"accepted"`
	Type     string `json:"type"`
}

func buildMux(s *store.Store, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.State())
	})

	mux.HandleFunc("GET /state/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		v, ok := s.State().Get(key)
		if !ok {
			errmodel.WriteHTTP(w, r, errmodel.Validation(errmodel.CodeNotFound, "no sub-state for key", map[string]any{"key": key}))
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("POST /dispatch", func(w http.ResponseWriter, r *http.Request) {
		var a reducer.Action
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation(errmodel.CodeBadRequest, "invalid action body", map[string]any{"error": err.Error()}))
			return
		}
		if a.Type == "" {
			errmodel.WriteHTTP(w, r, errmodel.Validation(errmodel.CodeBadRequest, "action type is required", nil))
			return
		}
		if strings.HasPrefix(a.Type, reservedPrefix) {
			errmodel.WriteHTTP(w, r, errmodel.Validation(errmodel.CodeBadRequest, "action type is reserved", map[string]any{"type": a.Type}))
			return
		}
		s.DispatchContext(r.Context(), a)
		logger.DebugContext(r.Context(), "action accepted", slog.String("action", a.Type))
		writeJSON(w, http.StatusAccepted, dispatchResponse{Accepted: true, Type: a.Type})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
