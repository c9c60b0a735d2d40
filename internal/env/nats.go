package env

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"wildfire_crew/internal/scenario"
)

const (
	defaultSubjectPrefix  = "wildfire"
	defaultRequestTimeout = 30 * time.Second
)

type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NATS drives a remote simulator over request/reply subjects
// "<prefix>.reset", "<prefix>.step" and "<prefix>.close".
type NATS struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

type resetRequest struct {
	Settings scenario.Settings `json:"settings"`
}

type stepRequest struct {
	Actions [][3]int `json:"actions"`
}

type frameReply struct {
	Frame
	Error string `json:"error,omitempty"`
}

func DialNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("component", "env_nats"))
	conn, err := nats.Connect(cfg.URL,
		nats.Name("wildfire-crew"),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	return &NATS{conn: conn, prefix: cfg.SubjectPrefix, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func (n *NATS) Reset(ctx context.Context, settings scenario.Settings) (Frame, error) {
	return n.request(ctx, "reset", resetRequest{Settings: settings})
}

func (n *NATS) Step(ctx context.Context, joint [][3]int) (Frame, error) {
	return n.request(ctx, "step", stepRequest{Actions: joint})
}

func (n *NATS) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if _, err := n.conn.RequestWithContext(ctx, n.prefix+".close", nil); err != nil && !errors.Is(err, nats.ErrNoResponders) {
		n.logger.Warn("close request failed", zap.Error(err))
	}
	return n.conn.Drain()
}

func (n *NATS) request(ctx context.Context, op string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s request: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	subject := n.prefix + "." + op
	msg, err := n.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return Frame{}, fmt.Errorf("%s request on %s: %w", op, subject, err)
	}
	var reply frameReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Frame{}, fmt.Errorf("decode %s reply: %w", op, err)
	}
	if reply.Error != "" {
		return Frame{}, fmt.Errorf("simulator %s: %s", op, reply.Error)
	}
	n.logger.Debug("simulator reply", zap.String("op", op), zap.Int("slots", reply.Slots()))
	return reply.Frame, nil
}
