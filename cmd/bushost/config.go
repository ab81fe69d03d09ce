package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

type appConfig struct {
	lineBackend string
	device      string
	baud        int

	halfBitPeriod time.Duration
	idleTimeout   time.Duration
	localAddr     byte

	logFormat string
	logLevel  string

	discover        bool
	discoverTimeout time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	lineBackend := flag.StringP("line", "l", "sim", "Line backend: uart|term|sim")
	device := flag.StringP("device", "d", "/dev/ttyUSB0", "Serial device path (uart/term backends)")
	baud := flag.Int("baud", 115200, "Serial baud rate (uart/term backends)")
	halfBit := flag.Duration("half-bit-period", 500*time.Microsecond, "Half-bit tick period")
	idleTimeout := flag.Duration("idle-timeout", 1100*time.Microsecond, "Idle/activity timeout period")
	localAddr := flag.StringP("local-addr", "a", "0x01", "Boot-default local bus address, e.g. 0xAA")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	discover := flag.Bool("discover", false, "Browse for busnode bridges via mDNS and exit")
	discoverTimeout := flag.Duration("discover-timeout", 2*time.Second, "How long -discover scans before reporting results")
	showVersion := flag.BoolP("version", "v", false, "Print version and exit")
	flag.Parse()

	cfg.lineBackend = *lineBackend
	cfg.device = *device
	cfg.baud = *baud
	cfg.halfBitPeriod = *halfBit
	cfg.idleTimeout = *idleTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.discover = *discover
	cfg.discoverTimeout = *discoverTimeout

	addr, err := parseAddr(*localAddr)
	if err != nil {
		fmt.Printf("configuration error: invalid --local-addr: %v\n", err)
		return nil, *showVersion
	}
	cfg.localAddr = addr

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

func (c *appConfig) validate() error {
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
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.halfBitPeriod <= 0 {
		return fmt.Errorf("half-bit-period must be > 0")
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.discoverTimeout <= 0 {
		return fmt.Errorf("discover-timeout must be > 0")
	}
	return nil
}
