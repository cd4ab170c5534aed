package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/halverson/webtap/pkg/pipeline"
)

// RoundTripper forwards one pipeline request. Satisfied by *Facade and by
// any Transport.
type RoundTripper interface {
	RoundTrip(req *pipeline.Request) (*pipeline.Response, error)
}

// hop-by-hop headers stripped when bridging, per RFC 9110 §7.6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Bridge converts inbound server requests into pipeline requests and
// forwards them to a fixed target, so a plain HTTP client can exercise the
// interception chain.
type Bridge struct {
	rt     RoundTripper
	target string // scheme://host[:port], no trailing slash
	logger *slog.Logger
}

// NewBridge forwards everything it serves to target through rt.
func NewBridge(rt RoundTripper, target string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{rt: rt, target: strings.TrimRight(target, "/"), logger: logger}
}

// ServeHTTP implements http.Handler.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		body = data
	}

	target := b.target + r.URL.RequestURI()
	req := pipeline.NewRequest(r.Method, target, body)
	req = req.WithContext(r.Context())
	for k, vv := range r.Header {
		if isHopHeader(k) {
			continue
		}
		req.Header[k] = append([]string(nil), vv...)
	}

	resp, err := b.rt.RoundTrip(req)
	if err != nil {
		b.logger.Error("bridge forward failed", "url", target, "error", err)
		http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
		return
	}

	header := w.Header()
	for k, vv := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		header[k] = vv
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body.IsNil() {
		return
	}
	rc := resp.Body.Reader()
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		b.logger.Debug("bridge write failed", "url", target, "error", err)
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
