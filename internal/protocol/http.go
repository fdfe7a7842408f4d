package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nmslite/engine/internal/config"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPBackend calls the host's HTTP API and returns the selected part of
// the response as raw text.
type HTTPBackend struct{}

func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{}
}

func (b *HTTPBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	if target.Config == nil || target.Config.Protocols.HTTP == nil {
		return nil, fmt.Errorf("%w: http", ErrMissingConfiguration)
	}
	cfg := target.Config.Protocols.HTTP

	scheme, port := "http", cfg.Port
	if cfg.HTTPS {
		scheme = "https"
	}
	if port == 0 {
		port = 80
		if cfg.HTTPS {
			port = 443
		}
	}

	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(target.Hostname, strconv.Itoa(port)), path)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, newError(KindHTTP, "request", target.Hostname, err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if cfg.Username != "" {
		httpReq.SetBasicAuth(cfg.Username, cfg.Password)
	}

	client := &http.Client{
		Timeout: config.Timeout(cfg.TimeoutMS, defaultHTTPTimeout),
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, newError(KindHTTP, method, target.Hostname, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindHTTP, "read", target.Hostname, err)
	}
	if resp.StatusCode >= http.StatusBadRequest && req.ResultContent != ResultHTTPStatus {
		return nil, newError(KindHTTP, method, target.Hostname,
			fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}

	return &Result{Raw: selectContent(req.ResultContent, resp, payload)}, nil
}

func selectContent(content string, resp *http.Response, payload []byte) string {
	switch content {
	case ResultHeader:
		return formatHeader(resp.Header)
	case ResultHTTPStatus:
		return strconv.Itoa(resp.StatusCode)
	case ResultAll:
		return fmt.Sprintf("%d\n%s\n%s", resp.StatusCode, formatHeader(resp.Header), payload)
	default:
		return string(payload)
	}
}

func formatHeader(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return b.String()
}
