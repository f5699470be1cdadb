package apis

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	portalDebugEnabledOnce sync.Once
	portalDebugEnabledFlag bool

	portalDebugOutputOnce sync.Once
	portalDebugOutput     io.Writer = os.Stderr

	portalDebugLoggerOnce sync.Once
	portalDebugLogger     *log.Logger
)

func portalDebugEnabled() bool {
	portalDebugEnabledOnce.Do(func() {
		portalDebugEnabledFlag = strings.TrimSpace(os.Getenv("RETROCAM_DEBUG")) == "1" ||
			strings.TrimSpace(os.Getenv("RETROCAM_PORTAL_DEBUG")) == "1"
	})
	return portalDebugEnabledFlag
}

func portalDebugWriter() io.Writer {
	portalDebugOutputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv("RETROCAM_DEBUG_FILE"))
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "retrocam portal debug log open failed: %v\n", err)
			return
		}
		portalDebugOutput = f
	})
	return portalDebugOutput
}

// debugf logs a dbus-level diagnostic line when RETROCAM_DEBUG or
// RETROCAM_PORTAL_DEBUG is set. Call failures otherwise propagate as plain
// errors with no breadcrumb of which dbus call or path produced them.
func debugf(format string, args ...any) {
	if !portalDebugEnabled() {
		return
	}
	portalDebugLoggerOnce.Do(func() {
		portalDebugLogger = log.New(portalDebugWriter(), "retrocam/portal ", log.LstdFlags|log.Lmicroseconds)
	})
	portalDebugLogger.Printf(format, args...)
}
