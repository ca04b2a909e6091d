package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/warden/core"
)

// MaxReplayBody is the largest request body the proxy buffers for replay
const MaxReplayBody = 10 << 20

var errBodyTooLarge = errors.New("request body too large")

// NewAPIProxy forwards requests to target through transport, which is
// expected to be an AuthTransport
func NewAPIProxy(target *url.URL, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = slog.Default()
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		status, msg := http.StatusBadGateway, "Upstream unavailable"
		switch {
		case errors.Is(err, core.ErrNoSession),
			errors.Is(err, core.ErrRefreshFailed),
			errors.Is(err, core.ErrUnauthorizedAfterRefresh):
			status, msg = http.StatusUnauthorized, "Session expired"
		case errors.Is(err, core.ErrRequestNotReplayable):
			status, msg = http.StatusUnauthorized, "Unauthorized"
		}

		logger.Warn("proxy_failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "{\"error\":%q}", msg)
	}
	return proxy
}

// ProxyHandler buffers the request body so it can be replayed after a
// refresh and hands the request to proxy
func ProxyHandler(proxy http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := bufferBody(c.Request); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, MaxReplayBody+1))
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) > MaxReplayBody {
		return errBodyTooLarge
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	return nil
}
