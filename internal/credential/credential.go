package credential

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Credential is one rotating API key for the embedding provider. Mutable
// fields are guarded by the owning Pool's mutex and must only change
// through Acquire and RecordOutcome.
type Credential struct {
	Name          string
	Key           string
	RatePerMinute int

	active        bool
	errorCount    int
	requestCount  int64
	cooldownUntil time.Time
	window        []time.Time
}

// Status is the read-only snapshot exposed on the operational surface.
type Status struct {
	Name          string     `json:"name"`
	IsActive      bool       `json:"is_active"`
	ErrorCount    int        `json:"error_count"`
	RatePerMinute int        `json:"rate_per_minute"`
	WindowUsage   int        `json:"window_usage"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// rateForIndex mirrors the provider's key tiers: the first five keys are
// paid-tier (300 RPM), the next ten mid-tier (200 RPM), the rest 100 RPM.
func rateForIndex(i int) int {
	switch {
	case i < 5:
		return 300
	case i < 15:
		return 200
	default:
		return 100
	}
}

// LoadKeys reads credential keys from the comma-separated raw value, or
// falls back to EMBED_CREDENTIAL_1..EMBED_CREDENTIAL_20 env vars.
func LoadKeys(raw string) []string {
	if raw != "" {
		parts := strings.Split(raw, ",")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			if k := strings.TrimSpace(p); k != "" {
				keys = append(keys, k)
			}
		}
		return keys
	}

	var keys []string
	for i := 1; i <= 20; i++ {
		k := strings.TrimSpace(os.Getenv(fmt.Sprintf("EMBED_CREDENTIAL_%d", i)))
		if k == "" {
			break
		}
		keys = append(keys, k)
	}
	return keys
}

func newCredentials(keys []string) []*Credential {
	creds := make([]*Credential, 0, len(keys))
	for i, key := range keys {
		creds = append(creds, &Credential{
			Name:          fmt.Sprintf("credential-%d", i+1),
			Key:           key,
			RatePerMinute: rateForIndex(i),
			active:        true,
		})
	}
	return creds
}
