// Package logger is the logging sink for the protocol engine. Structured
// records go through ipfs/go-log; verbose mode additionally echoes whole
// frames to the terminal the way the interactive shell expects.
package logger

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lsnp/internal/proto"
)

var log = logging.Logger("lsnp")

// SetLevel adjusts the go-log level for the lsnp subsystem ("debug",
// "info", "warn", "error").
func SetLevel(level string) {
	_ = logging.SetLogLevel("lsnp", level)
}

// Logger carries the verbose flag; all methods are safe for concurrent use.
type Logger struct {
	verbose atomic.Bool
}

func New(verbose bool) *Logger {
	l := &Logger{}
	l.verbose.Store(verbose)
	return l
}

// SetVerbose toggles terminal frame echoing at runtime.
func (l *Logger) SetVerbose(on bool) { l.verbose.Store(on) }

// Verbose reports whether frame echoing is on.
func (l *Logger) Verbose() bool { return l.verbose.Load() }

// Log prints a tagged line when verbose, and always records a debug entry.
func (l *Logger) Log(tag, message string) {
	log.Debugw(message, "tag", tag)
	l.echo(tag, message)
}

// LogSend records an outbound frame.
func (l *Logger) LogSend(msgType, dest string, m *proto.Message) {
	log.Debugw("send", "type", msgType, "to", dest)
	l.echoFrame("SEND", msgType, dest, m)
}

// LogRecv records an inbound frame.
func (l *Logger) LogRecv(msgType, src string, m *proto.Message) {
	log.Debugw("recv", "type", msgType, "from", src)
	l.echoFrame("RECV", msgType, src, m)
}

// LogParse records a frame dropped by the codec.
func (l *Logger) LogParse(src string, err error) {
	log.Infow("parse failure", "from", src, "err", err)
	l.echo("PARSE", fmt.Sprintf("dropped frame from %s: %v", src, err))
}

// LogDrop records a frame dropped by a handler.
func (l *Logger) LogDrop(msgType, src, reason string) {
	log.Infow("drop", "type", msgType, "from", src, "reason", reason)
	l.echo("DROP", fmt.Sprintf("%s from %s: %s", msgType, src, reason))
}

// LogReject records a frame rejected by token validation.
func (l *Logger) LogReject(msgType, src, reason string) {
	log.Infow("reject", "type", msgType, "from", src, "reason", reason)
	l.echo("REJECT", fmt.Sprintf("%s from %s: %s", msgType, src, reason))
}

// LogRetry records a DM retransmission attempt.
func (l *Logger) LogRetry(messageID, dest string, attempt int) {
	log.Infow("retry", "message_id", messageID, "to", dest, "attempt", attempt)
	l.echo("RETRY", fmt.Sprintf("DM %s to %s (attempt %d)", messageID, dest, attempt))
}

// LogError records a non-fatal operational error.
func (l *Logger) LogError(tag string, err error) {
	log.Errorw("error", "tag", tag, "err", err)
	l.echo("ERROR", err.Error())
}

func (l *Logger) echo(tag, message string) {
	if !l.verbose.Load() {
		return
	}
	fmt.Printf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), tag, message)
}

func (l *Logger) echoFrame(tag, msgType, addr string, m *proto.Message) {
	if !l.verbose.Load() {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s %s\n", time.Now().Format("15:04:05"), tag, msgType, addr)
	if m != nil {
		for _, k := range m.Keys() {
			v := m.Get(k)
			if len(v) > 96 {
				v = v[:96] + "…"
			}
			fmt.Fprintf(&b, "    %s: %s\n", k, v)
		}
	}
	fmt.Print(b.String())
}
