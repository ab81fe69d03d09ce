package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	lineBackend string
	device      string
	baud        int

	halfBitPeriod time.Duration
	idleTimeout   time.Duration
	queueCap      int
	localAddr     byte

	console bool

	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	lineBackend := flag.String("line", "uart", "Line backend: uart|term|sim")
	device := flag.String("device", "/dev/ttyUSB0", "Serial device path (uart/term backends)")
	baud := flag.Int("baud", 115200, "Serial baud rate (uart/term backends)")
	halfBit := flag.Duration("half-bit-period", 500*time.Microsecond, "Half-bit tick period")
	idleTimeout := flag.Duration("idle-timeout", 1100*time.Microsecond, "Idle/activity timeout period")
	queueCap := flag.Int("queue-capacity", 10, "TX/RX frame queue capacity")
	localAddr := flag.String("local-addr", "0x01", "Boot-default local bus address, e.g. 0xAA")
	console := flag.Bool("console", false, "Run the interactive line console on stdin/stdout")
	listen := flag.String("bridge-addr", "", "TCP bridge listen address (e.g., :20000); empty disables the bridge")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous bridge TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Bridge client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Bridge per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the bridge via mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default busnode-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.lineBackend = *lineBackend
	cfg.device = *device
	cfg.baud = *baud
	cfg.halfBitPeriod = *halfBit
	cfg.idleTimeout = *idleTimeout
	cfg.queueCap = *queueCap
	cfg.console = *console
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	addr, err := parseAddr(*localAddr)
	if err != nil {
		fmt.Printf("configuration error: invalid -local-addr: %v\n", err)
		return nil, *showVersion
	}
	cfg.localAddr = addr

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func parseAddr(s string) (byte, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(n), nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners -- only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.lineBackend {
	case "uart", "term", "sim":
	default:
		return fmt.Errorf("invalid line backend: %s", c.lineBackend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.halfBitPeriod <= 0 {
		return fmt.Errorf("half-bit-period must be > 0")
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.queueCap < 10 {
		return fmt.Errorf("queue-capacity must be >= 10 (got %d)", c.queueCap)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps BUSNODE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is
// lax: empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	reportErr := func(e error) {
		if firstErr == nil {
			firstErr = e
		}
	}

	if _, ok := set["line"]; !ok {
		if v, ok := get("BUSNODE_LINE"); ok && v != "" {
			c.lineBackend = v
		}
	}
	if _, ok := set["device"]; !ok {
		if v, ok := get("BUSNODE_DEVICE"); ok && v != "" {
			c.device = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("BUSNODE_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_BAUD: %w", err))
			}
		}
	}
	if _, ok := set["half-bit-period"]; !ok {
		if v, ok := get("BUSNODE_HALF_BIT_PERIOD"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.halfBitPeriod = d
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_HALF_BIT_PERIOD: %w", err))
			}
		}
	}
	if _, ok := set["idle-timeout"]; !ok {
		if v, ok := get("BUSNODE_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.idleTimeout = d
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_IDLE_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["local-addr"]; !ok {
		if v, ok := get("BUSNODE_LOCAL_ADDR"); ok && v != "" {
			if addr, err := parseAddr(v); err == nil {
				c.localAddr = addr
			} else {
				reportErr(fmt.Errorf("invalid BUSNODE_LOCAL_ADDR: %w", err))
			}
		}
	}
	if _, ok := set["bridge-addr"]; !ok {
		if v, ok := get("BUSNODE_BRIDGE_ADDR"); ok {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BUSNODE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BUSNODE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BUSNODE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("BUSNODE_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_HUB_BUFFER: %w", err))
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("BUSNODE_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("BUSNODE_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_MAX_CLIENTS: %w", err))
			}
		}
	}
	if _, ok := set["handshake-timeout"]; !ok {
		if v, ok := get("BUSNODE_HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.handshakeTO = d
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_HANDSHAKE_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("BUSNODE_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_CLIENT_READ_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("BUSNODE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("BUSNODE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("BUSNODE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				reportErr(fmt.Errorf("invalid BUSNODE_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	return firstErr
}
