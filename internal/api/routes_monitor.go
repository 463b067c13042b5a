package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moeru-ai/airi-sub003/internal/util"
)

const (
	defaultLogCount = 100
	maxLogCount     = 1000
)

// handleSystem reports host and process resource usage. Individual probe
// failures are omitted rather than failing the whole response.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}

	if usage, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = usage
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessStats(); err == nil {
		resp["process"] = proc
	}

	diskPath := s.cfg.DumpDir
	if diskPath == "" {
		diskPath = "."
	}
	if disk, err := util.GetDiskUsage(diskPath); err == nil {
		resp["disk"] = disk
	}

	c.JSON(http.StatusOK, resp)
}

// handleLogEntries returns recent entries from the newest hub log file.
func (s *Server) handleLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultLogCount)))
	if err != nil || count < 1 {
		count = defaultLogCount
	}
	if count > maxLogCount {
		count = maxLogCount
	}

	entries, err := readRecentLogEntries(s.cfg.Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest
// mchub_*.log file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []logEntry{}, nil
		}
		return nil, err
	}

	// Daily file names sort chronologically.
	var names []string
	for _, e := range dirEntries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, util.LogFilePrefix) && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return []logEntry{}, nil
	}
	sort.Strings(names)

	data, err := os.ReadFile(filepath.Join(logDir, names[len(names)-1]))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	start := len(lines) - count - 1
	if start < 0 {
		start = 0
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true, "component": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Timestamp: stringFromMap(raw, "time"),
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	if len(result) > count {
		result = result[len(result)-count:]
	}
	return result, nil
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
