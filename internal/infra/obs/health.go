package obs

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// HealthHandlers serves the stub backend's probes. Every named check must
// pass for /readyz to report ready.
type HealthHandlers struct {
	Checks map[string]func() error
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := gin.H{}
	for _, name := range names {
		if err := h.Checks[name](); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	body := gin.H{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "not ready"
	}
	c.JSON(status, body)
}
