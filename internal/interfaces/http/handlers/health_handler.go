package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/logger"
)

// HealthHandler provides the liveness and readiness probes.
type HealthHandler struct {
	checkers []service.HealthChecker
	timeout  time.Duration
	log      logger.Logger
}

// NewHealthHandler creates a HealthHandler over the given dependencies.
func NewHealthHandler(checkers []service.HealthChecker, timeout time.Duration, log logger.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checkers: checkers, timeout: timeout, log: log.WithComponent("HealthHandler")}
}

// Live reports that the process is serving.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now().UTC()})
}

// Ready pings every dependency concurrently and answers 503 when any is down.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			status, httpStatus = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
	)
	wg.Add(len(h.checkers))
	for _, checker := range h.checkers {
		go func(hc service.HealthChecker) {
			defer wg.Done()
			status := "ok"
			if err := hc.Ping(ctx); err != nil {
				h.log.Warn(ctx, "dependency unhealthy", logger.String("dependency", hc.Name()), logger.Err(err))
				status = "error"
			}
			mu.Lock()
			checks[hc.Name()] = status
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return checks
}

//Personal.AI order the ending
