package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CoderXiaopang/npm-meta/backend/internal/models"
)

// probeTimeout bounds each of the two probe attempts individually.
const probeTimeout = 3 * time.Second

// ProbeTarget checks whether a forwarding target is reachable. It first tries
// an application-level GET on http://host:port/health; any 200 counts as ok,
// with a nicer message when the body is JSON carrying {"status":"ok"}. When
// that fails for any reason it falls back to a raw TCP dial. The result is
// never "unknown" and no failure escapes as an error.
func ProbeTarget(host string, port int) (status, msg string) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var body struct {
				Status string `json:"status"`
			}
			dec := json.NewDecoder(io.LimitReader(resp.Body, 4096))
			if dec.Decode(&body) == nil && strings.EqualFold(body.Status, "ok") {
				return models.HealthStatusOK, "Health check ok"
			}
			return models.HealthStatusOK, fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
	}

	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err == nil {
		conn.Close()
		return models.HealthStatusOK, "TCP connect success"
	}

	return models.HealthStatusError, err.Error()
}
