package api

import (
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/desup/internal/config"
)

// SystemInfo contains runtime environment information.
type SystemInfo struct {
	Version     string           `json:"version"`
	Environment string           `json:"environment"` // "docker" or "native"
	OS          string           `json:"os"`
	Arch        string           `json:"arch"`
	GoVersion   string           `json:"go_version"`
	Uptime      string           `json:"uptime"`
	UptimeSecs  int64            `json:"uptime_seconds"`
	StartedAt   time.Time        `json:"started_at"`
	Config      SystemConfigInfo `json:"config"`
}

// SystemConfigInfo contains non-secret configuration details. Credentials
// (client secret, topic key) are deliberately absent.
type SystemConfigInfo struct {
	Port                string `json:"port"`
	BasePath            string `json:"base_path"`
	LogLevel            string `json:"log_level"`
	DataDir             string `json:"data_dir"`
	DatabasePath        string `json:"database_path"`
	LogDir              string `json:"log_dir"`
	AuthorityBase       string `json:"authority_base"`
	DriveBaseURL        string `json:"drive_base_url"`
	DriveScope          string `json:"drive_scope"`
	RetentionDays       int    `json:"retention_days"`
	MaintenanceSchedule string `json:"maintenance_schedule"`
	RequestTimeout      string `json:"request_timeout"`
}

// handleSystemInfo returns runtime environment information.
func (s *RESTServer) handleSystemInfo(c *gin.Context) {
	cfg := config.Get()
	uptime := time.Since(s.startTime)

	environment := "native"
	if isDockerEnvironment() {
		environment = "docker"
	}

	c.JSON(http.StatusOK, SystemInfo{
		Version:     config.Version,
		Environment: environment,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Uptime:      formatUptime(uptime),
		UptimeSecs:  int64(uptime.Seconds()),
		StartedAt:   s.startTime,
		Config: SystemConfigInfo{
			Port:                cfg.Port,
			BasePath:            cfg.BasePath,
			LogLevel:            cfg.LogLevel,
			DataDir:             cfg.DataDir,
			DatabasePath:        cfg.DatabasePath,
			LogDir:              cfg.LogDir,
			AuthorityBase:       cfg.AuthorityBase,
			DriveBaseURL:        cfg.DriveBaseURL,
			DriveScope:          cfg.DriveScope,
			RetentionDays:       cfg.RetentionDays,
			MaintenanceSchedule: cfg.MaintenanceSchedule,
			RequestTimeout:      cfg.RequestTimeout.String(),
		},
	})
}

// isDockerEnvironment checks if we're running inside a container.
func isDockerEnvironment() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	return false
}
