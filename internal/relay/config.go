package relay

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nearsend/nearsend/internal/logger"
)

const (
	DefaultAddr        = ":3000"
	DefaultSignalRate  = rate.Limit(50)
	DefaultSignalBurst = 100
)

type Config struct {
	Addr string
	// AllowedOrigins lists browser origins allowed to open the websocket.
	// "*" allows any origin.
	AllowedOrigins []string
	// SignalRate and SignalBurst bound how fast one connection may relay
	// signals.
	SignalRate  rate.Limit
	SignalBurst int
	Logger      logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.SignalRate <= 0 {
		c.SignalRate = DefaultSignalRate
	}
	if c.SignalBurst <= 0 {
		c.SignalBurst = DefaultSignalBurst
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	return c
}

// checkOrigin accepts requests without an Origin header, which come from
// non-browser peers.
func (c Config) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
