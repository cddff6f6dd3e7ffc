package app

import (
	"strings"

	"github.com/google/uuid"
)

// resolveInstanceID prefers the configured id, then the hostname, so a restarted process
// rejoins its own consumer group. A random id is the last resort.
func resolveInstanceID(configured string, hostname func() (string, error)) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	if hostname != nil {
		if host, err := hostname(); err == nil {
			if host = strings.TrimSpace(host); host != "" {
				return host
			}
		}
	}
	return uuid.NewString()
}
