// ABOUTME: slog setup for the chat client
// ABOUTME: Builds a JSON handler or a colorized terminal handler from config

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/tzironis/qualia/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = newTermHandler(os.Stderr, level)
	}

	return slog.New(handler)
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("DBG"),
	slog.LevelInfo:  color.CyanString("INF"),
	slog.LevelWarn:  color.YellowString("WRN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERR"),
}

// termHandler writes compact colorized lines to stderr. Log output shares the
// terminal with the chat REPL, so each record is a single line and attribute
// noise is kept dim. The component attribute, which every internal package
// sets, is pulled forward as a bracketed tag.
type termHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	prefix string // dotted group path applied to attr keys
	attrs  []slog.Attr
}

func newTermHandler(w io.Writer, level slog.Level) *termHandler {
	return &termHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	var component string
	var rest []slog.Attr

	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
			continue
		}
		rest = append(rest, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == h.prefix+"component" {
			component = a.Value.String()
			return true
		}
		rest = append(rest, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteByte(' ')

	tag, ok := levelTags[r.Level]
	if !ok {
		tag = r.Level.String()
	}
	buf.WriteString(tag)
	buf.WriteByte(' ')

	if component != "" {
		buf.WriteString(color.HiBlackString("[" + component + "] "))
	}
	buf.WriteString(r.Message)

	for _, a := range rest {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		v := a.Value.String()
		if strings.ContainsAny(v, " \t") {
			v = fmt.Sprintf("%q", v)
		}
		buf.WriteString(v)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(h.w, buf.String())
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return h2
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *termHandler) clone() *termHandler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)
	return &termHandler{
		mu:     h.mu, // shared so derived handlers still serialize writes
		w:      h.w,
		level:  h.level,
		prefix: h.prefix,
		attrs:  attrs,
	}
}
