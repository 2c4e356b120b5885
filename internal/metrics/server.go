package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "winkdrops/pkg/logx"
)

// Route is an extra handler mounted next to /metrics and /healthz.
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

func init() { gin.SetMode(gin.ReleaseMode) }

// Handler builds the router served by Serve.
func Handler(log logx.Logger, routes ...Route) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(log))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok\n")
	})
	for _, rt := range routes {
		if rt.Method == "" || rt.Path == "" || rt.Handler == nil {
			continue
		}
		r.Handle(rt.Method, rt.Path, rt.Handler)
	}
	return r
}

// requestLog logs non-probe requests at debug level.
func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		switch c.FullPath() {
		case "/metrics", "/healthz":
			return
		}
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// Serve runs the HTTP listener until ctx is done.
func Serve(ctx context.Context, addr string, log logx.Logger, routes ...Route) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(log, routes...),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", logx.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	}
}
