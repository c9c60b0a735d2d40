// Package fs writes the per-episode chat logs under a single root
// directory. Paths are resolved against the root and may not escape it.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wildfire_crew/internal/oracle"
)

const rule = "--------------------"

// ChatLog appends oracle exchanges to "<name>.txt" files under root.
type ChatLog struct {
	root   string
	logger *zap.Logger

	mu sync.Mutex
}

func NewChatLog(root string, logger *zap.Logger) (*ChatLog, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatLog{root: absRoot, logger: logger.With(zap.String("component", "chatlog"))}, nil
}

func (c *ChatLog) Root() string {
	return c.root
}

// Append writes one titled exchange to the log of name.
func (c *ChatLog) Append(name, title string, turns []oracle.Turn) error {
	absPath, _, err := c.resolve(name + ".txt")
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", title, rule)
	for _, t := range turns {
		fmt.Fprintf(&b, "%s\n-----\n%s\n-----\n\n", t.Role, t.Content)
	}
	fmt.Fprintf(&b, "%s\nEND CHAT\n\n", rule)

	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write chat log: %w", err)
	}
	return nil
}

// Record is Append for callers that cannot act on a failed write.
func (c *ChatLog) Record(name, title string, turns []oracle.Turn) {
	if err := c.Append(name, title, turns); err != nil {
		c.logger.Warn("chat log write failed", zap.String("name", name), zap.Error(err))
	}
}

func (c *ChatLog) ReadFile(relPath string) ([]byte, error) {
	absPath, _, err := c.resolve(relPath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// List returns the chat log file names under root.
func (c *ChatLog) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list chat logs: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (c *ChatLog) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	abs := filepath.Join(c.root, filepath.FromSlash(normalized))
	absClean := filepath.Clean(abs)
	absRoot := filepath.Clean(c.root)

	rel, err := filepath.Rel(absRoot, absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") || rel == "." {
		return "", "", fmt.Errorf("path escapes log root: %q", relPath)
	}
	return absClean, strings.ReplaceAll(rel, "\\", "/"), nil
}
