package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTConfig configures an MQTTLink connection to the instrument
// controller's command/reply broker.
type MQTTConfig struct {
	Broker      string // e.g. "mqtt://localhost:1883" or "mqtts://host:8883"
	ClientID    string
	TopicPrefix string // e.g. "ocsqueue/jcmt"
	Username    string
	Password    string
}

func (c MQTTConfig) commandTopic() string { return c.TopicPrefix + "/command" }
func (c MQTTConfig) replyTopic() string   { return c.TopicPrefix + "/reply" }

// wireReply is the JSON shape published by the instrument controller on
// the reply topic.
type wireReply struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"` // "success" | "error" | "complete" | "info"
	Code          int    `json:"code"`
	Text          string `json:"text"`
}

// MQTTLink realizes Link over an MQTT pub/sub connection (§4.9): Send
// publishes the artifact identifier to the command topic; onSuccess/
// onError/onComplete/informational messages arrive as JSON payloads on the
// reply topic and are demultiplexed by transaction id. The connection
// lifecycle (autopaho wiring, reconnect, panic-recovering receive handler)
// mirrors the teacher's internal/mqtt Publisher.Start, generalized from a
// Home-Assistant-discovery publisher to a bare command/reply channel.
type MQTTLink struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu          sync.Mutex
	cm          *autopaho.ConnectionManager
	rateLimiter *messageRateLimiter

	replies chan Reply
}

// NewMQTTLink constructs an MQTTLink. Call Connect to establish the
// broker connection before sending.
func NewMQTTLink(cfg MQTTConfig, logger *slog.Logger) *MQTTLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTLink{
		cfg:     cfg,
		logger:  logger,
		replies: make(chan Reply, 64),
	}
}

func (l *MQTTLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cm != nil {
		return nil
	}

	brokerURL, err := url.Parse(l.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	replyTopic := l.cfg.replyTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: l.cfg.Username,
		ConnectPassword: []byte(l.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			l.logger.Info("mqtt backend link connected", "broker", l.cfg.Broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: replyTopic, QoS: 1}},
			}); err != nil {
				l.logger.Error("mqtt backend link resubscribe failed", "topic", replyTopic, "error", err)
			}
		},
		OnConnectError: func(err error) {
			l.logger.Warn("mqtt backend link connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: l.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt backend link connect: %w", err)
	}

	l.rateLimiter = newMessageRateLimiter(200, time.Second, l.logger)
	go l.rateLimiter.start(ctx)

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if !l.rateLimiter.allow() {
			return true, nil
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("mqtt backend link handler panicked", "topic", pr.Packet.Topic, "panic", r)
				}
			}()
			l.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
		}()
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		l.logger.Warn("mqtt backend link initial connection timed out, retrying in background", "error", err)
	}

	l.cm = cm
	return nil
}

func (l *MQTTLink) Disconnect() error {
	l.mu.Lock()
	cm := l.cm
	l.cm = nil
	l.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(context.Background())
}

func (l *MQTTLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cm != nil
}

func (l *MQTTLink) Send(ctx context.Context, transactionID, artifact string) error {
	l.mu.Lock()
	cm := l.cm
	l.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("mqtt backend link: not connected")
	}

	payload, err := json.Marshal(struct {
		TransactionID string `json:"transaction_id"`
		Artifact      string `json:"artifact"`
	}{transactionID, artifact})
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}

	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   l.cfg.commandTopic(),
		Payload: payload,
		QoS:     1,
	})
	if err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

func (l *MQTTLink) Replies() <-chan Reply {
	return l.replies
}

func (l *MQTTLink) handleMessage(topic string, payload []byte) {
	if topic != l.cfg.replyTopic() {
		return
	}
	var wr wireReply
	if err := json.Unmarshal(payload, &wr); err != nil {
		l.logger.Warn("mqtt backend link: malformed reply payload", "error", err)
		return
	}

	var kind ReplyKind
	switch wr.Kind {
	case "success":
		kind = ReplySuccess
	case "error":
		kind = ReplyError
	case "complete":
		kind = ReplyComplete
	default:
		kind = ReplyInfo
	}

	select {
	case l.replies <- Reply{TransactionID: wr.TransactionID, Kind: kind, Code: wr.Code, Text: wr.Text}:
	default:
		l.logger.Warn("mqtt backend link: reply channel full, dropping message", "transaction_id", wr.TransactionID)
	}
}

// messageRateLimiter tracks inbound message rates and drops messages past
// the configured threshold. Adapted verbatim from the teacher's
// internal/mqtt/subscriber.go, which is already domain-agnostic.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{limit: limit, interval: interval, logger: logger}
}

func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt backend link messages dropped due to rate limit",
					"received", count, "dropped", dropped, "interval", r.interval.String(), "limit", r.limit)
			}
		}
	}
}

func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
