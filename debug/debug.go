package debug

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//
// Debug output is controlled by the TINYOSDEBUG environment variable,
// which can be a list of labels (e.g., "PIPE;SOCKET"). The kernel
// config may add labels at boot with SetLabels.
//

const TINYOSDEBUG = "TINYOSDEBUG"

var (
	mu     sync.RWMutex
	labels map[Tselector]bool
	logger *zap.SugaredLogger
)

func init() {
	labels = parseLabels(os.Getenv(TINYOSDEBUG))
	logger = newLogger()
}

func newLogger() *zap.SugaredLogger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return zap.New(core).Sugar()
}

func parseLabels(s string) map[Tselector]bool {
	m := make(map[Tselector]bool)
	if s == "" {
		return m
	}
	for _, l := range strings.Split(s, ";") {
		if l = strings.TrimSpace(l); l != "" {
			m[Tselector(l)] = true
		}
	}
	return m
}

// SetLabels enables the labels in s in addition to those from
// TINYOSDEBUG.
func SetLabels(s string) {
	mu.Lock()
	defer mu.Unlock()

	for l := range parseLabels(s) {
		labels[l] = true
	}
}

func WillBePrinted(label Tselector) bool {
	if label == ALWAYS || label == ERROR {
		return true
	}
	mu.RLock()
	defer mu.RUnlock()
	return labels[label]
}

func DPrintf(label Tselector, format string, v ...interface{}) {
	if !WillBePrinted(label) {
		return
	}
	msg := strings.TrimSuffix(fmt.Sprintf(format, v...), "\n")
	switch {
	case label == ERROR || strings.HasSuffix(string(label), string(ERR)):
		logger.Errorf("%v %v", label, msg)
	case label == ALWAYS:
		logger.Infof("%v %v", label, msg)
	default:
		logger.Debugf("%v %v", label, msg)
	}
}

// DFatalf reports a violated kernel invariant and aborts.
func DFatalf(format string, v ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	fnDetails := runtime.FuncForPC(pc)
	if ok && fnDetails != nil {
		logger.Fatalf("FATAL %v %v:%v %v", fnDetails.Name(), file, line, fmt.Sprintf(format, v...))
	} else {
		logger.Fatalf("FATAL (missing details) %v", fmt.Sprintf(format, v...))
	}
}
