package logging

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	cases := map[Level][]string{
		LevelError: {"ERROR "},
		LevelWarn:  {"ERROR ", "WARN "},
		LevelInfo:  {"ERROR ", "WARN ", "INFO "},
		LevelDebug: {"ERROR ", "WARN ", "INFO ", "DEBUG "},
	}
	allPrefixes := []string{"ERROR ", "WARN ", "INFO ", "DEBUG "}

	for level, want := range cases {
		t.Run(level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, level)
			logger.Errorf("msg")
			logger.Warnf("msg")
			logger.Infof("msg")
			logger.Debugf("msg")

			output := buf.String()
			for _, prefix := range allPrefixes {
				wanted := false
				for _, w := range want {
					if w == prefix {
						wanted = true
					}
				}
				if got := strings.Contains(output, prefix); got != wanted {
					t.Errorf("level %s: %q present = %v, want %v", level, prefix, got, wanted)
				}
			}
		})
	}
}

func TestDefaultLoggerFormatsArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	logger.Errorf(NSDB+"error %d", 1)
	logger.Warnf(NSWAL+"warn %d", 2)
	logger.Infof(NSRecovery+"info %d", 3)
	logger.Debugf(NSManifest+"debug %d", 4)

	output := buf.String()
	for _, want := range []string{"[db] error 1", "[wal] warn 2", "[recovery] info 3", "[manifest] debug 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got %s", want, output)
		}
	}
}

func TestDiscardSwallowsEveryCall(t *testing.T) {
	Discard.Errorf("x %d", 1)
	Discard.Warnf("x %d", 1)
	Discard.Infof("x %d", 1)
	Discard.Debugf("x %d", 1)
	Discard.Fatalf("x %d", 1)

	if _, ok := Discard.(discardLogger); !ok {
		t.Errorf("Discard should be backed by discardLogger, got %T", Discard)
	}
}

func TestLevelStringUnknown(t *testing.T) {
	for level, want := range map[Level]string{
		LevelError: "ERROR",
		LevelWarn:  "WARN",
		LevelInfo:  "INFO",
		LevelDebug: "DEBUG",
		Level(-7):  "UNKNOWN",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestNamespaceConstantsAreBracketed(t *testing.T) {
	for _, ns := range []string{NSFlush, NSCompact, NSWAL, NSManifest, NSRecovery, NSDB, NSTxn} {
		trimmed := strings.TrimSpace(ns)
		if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
			t.Errorf("namespace %q should be bracketed", ns)
		}
	}
}

func TestIsNil(t *testing.T) {
	var nilInterface Logger
	var typedNil *DefaultLogger
	var typedNilAsInterface Logger = typedNil
	valid := NewDefaultLogger(LevelWarn)

	if !IsNil(nilInterface) {
		t.Error("nil interface should report IsNil")
	}
	if !IsNil(typedNilAsInterface) {
		t.Error("typed-nil pointer wrapped in an interface should report IsNil")
	}
	if IsNil(valid) {
		t.Error("a constructed logger should not report IsNil")
	}
	if IsNil(Discard) {
		t.Error("Discard is a non-pointer value and should not report IsNil")
	}
}

func TestOrDefaultSubstitutesOnlyWhenNil(t *testing.T) {
	fallback := OrDefault(nil)
	dl, ok := fallback.(*DefaultLogger)
	if !ok || dl.Level() != LevelWarn {
		t.Errorf("OrDefault(nil) = %#v, want a WARN-level DefaultLogger", fallback)
	}

	var typedNil *DefaultLogger
	fallback = OrDefault(typedNil)
	if dl, ok := fallback.(*DefaultLogger); !ok || dl.Level() != LevelWarn {
		t.Errorf("OrDefault(typed-nil) = %#v, want a WARN-level DefaultLogger", fallback)
	}

	original := NewDefaultLogger(LevelDebug)
	if OrDefault(original) != original {
		t.Error("OrDefault should pass through a valid logger unchanged")
	}
}

func TestFatalfAlwaysLogsAndInvokesHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError) // lowest level: Fatalf must still log

	var mu sync.Mutex
	var captured string
	var called atomic.Bool
	logger.SetFatalHandler(func(msg string) {
		mu.Lock()
		captured = msg
		mu.Unlock()
		called.Store(true)
	})

	logger.Fatalf(NSTxn+"conflict on key %q", "x")

	if !strings.Contains(buf.String(), "FATAL "+NSTxn) {
		t.Errorf("Fatalf output = %q, want a FATAL-prefixed line", buf.String())
	}
	if !called.Load() {
		t.Fatal("FatalHandler was not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(captured, "conflict on key") {
		t.Errorf("handler received %q", captured)
	}
}

func TestFatalfWithoutHandlerDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelWarn)
	logger.Fatalf("no handler registered")
	if !strings.Contains(buf.String(), "FATAL ") {
		t.Error("Fatalf should still log without a handler")
	}
}

func TestDefaultLoggerConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	var fatalCalls atomic.Int32
	logger.SetFatalHandler(func(string) { fatalCalls.Add(1) })

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Infof("entry %d", i)
			if i%5 == 0 {
				logger.Fatalf("fatal %d", i)
			}
		}(i)
	}
	wg.Wait()

	if got := fatalCalls.Load(); got != n/5 {
		t.Errorf("fatal handler ran %d times, want %d", got, n/5)
	}
}

func TestErrFatalSentinel(t *testing.T) {
	if ErrFatal == nil || ErrFatal.Error() != "fatal error" {
		t.Errorf("ErrFatal = %v, want a sentinel reading \"fatal error\"", ErrFatal)
	}
}
