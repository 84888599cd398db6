// Package messaging wraps Kafka for publishing and consuming user
// lifecycle events.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultNumPartitions     = 3
	defaultReplicationFactor = 1
	defaultBatchSize         = 100
	defaultBatchTimeout      = 1 * time.Second
	channelCapacity          = 100
	retryBackoff             = 1 * time.Second
)

var (
	ErrNoBrokers             = errors.New("kafka broker list is empty")
	ErrNoTopic               = errors.New("kafka topic is empty")
	ErrConsumerNotConfigured = errors.New("kafka consumer is not configured")
	ErrConsumerRunning       = errors.New("kafka consumer is already started")
	ErrConsumerNotRunning    = errors.New("kafka consumer is not running")
	ErrClosed                = errors.New("kafka messenger is closed")
)

// Config configures a Messenger. GroupID is only needed for consuming.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return ErrNoBrokers
		}
	}
	if strings.TrimSpace(c.Topic) == "" {
		return ErrNoTopic
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Messenger produces to and consumes from a single topic.
type Messenger struct {
	topic   string
	groupID string
	brokers []string
	logger  *slog.Logger

	writer messageWriter
	reader messageReader

	mu       sync.Mutex
	closed   bool
	messages chan string
	errs     chan error
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates cfg, ensures the topic exists and opens a writer, plus a
// group reader when cfg.GroupID is set.
func New(ctx context.Context, cfg Config) (*Messenger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "messaging", "topic", cfg.Topic)

	m := &Messenger{
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		brokers: cfg.Brokers,
		logger:  logger,
	}

	if err := m.EnsureTopic(ctx, defaultNumPartitions, defaultReplicationFactor); err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", cfg.Topic, err)
	}

	m.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       kafkaLogger(logger, slog.LevelDebug),
		ErrorLogger:  kafkaLogger(logger, slog.LevelError),
	}

	if cfg.GroupID != "" {
		m.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:           cfg.Brokers,
			Topic:             cfg.Topic,
			GroupID:           cfg.GroupID,
			QueueCapacity:     channelCapacity,
			StartOffset:       kafka.FirstOffset,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
			MaxAttempts:       5,
			Logger:            kafkaLogger(logger, slog.LevelDebug),
			ErrorLogger:       kafkaLogger(logger, slog.LevelError),
		})
	}

	return m, nil
}

func kafkaLogger(logger *slog.Logger, level slog.Level) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
	}
}

// Topic returns the topic this messenger is bound to.
func (m *Messenger) Topic() string {
	return m.topic
}

// EnsureTopic creates the topic through the cluster controller unless it
// already exists.
func (m *Messenger) EnsureTopic(ctx context.Context, numPartitions, replicationFactor int) error {
	var dialer kafka.Dialer

	var conn *kafka.Conn
	var dialErr error
	for _, broker := range m.brokers {
		conn, dialErr = dialer.DialContext(ctx, "tcp", broker)
		if dialErr == nil {
			break
		}
		m.logger.Warn("kafka broker unreachable", "broker", broker, "error", dialErr)
	}
	if dialErr != nil {
		return fmt.Errorf("connect to any broker: %w", dialErr)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	partitions, err := controllerConn.ReadPartitions(m.topic)
	if err == nil && len(partitions) > 0 {
		m.logger.Debug("kafka topic exists", "partitions", len(partitions))
		return nil
	}
	if err != nil && !errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("read partitions: %w", err)
	}

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             m.topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create topic: %w", err)
	}

	m.logger.Info("kafka topic created",
		"partitions", numPartitions,
		"replication_factor", replicationFactor,
	)
	return nil
}

// Produce writes one message to the topic.
func (m *Messenger) Produce(ctx context.Context, key, value string) error {
	m.mu.Lock()
	writer, closed := m.writer, m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if writer == nil {
		return errors.New("kafka producer is not initialized")
	}

	msg := kafka.Message{Key: []byte(key), Value: []byte(value)}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// StartConsumer starts reading the topic in a goroutine. Each message is
// committed only after it has been handed to the returned channel. Both
// channels are closed when the consumer stops.
func (m *Messenger) StartConsumer(ctx context.Context) (<-chan string, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	if m.reader == nil {
		return nil, nil, ErrConsumerNotConfigured
	}
	if m.cancel != nil {
		return nil, nil, ErrConsumerRunning
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	m.messages = make(chan string, channelCapacity)
	m.errs = make(chan error, channelCapacity)
	m.done = make(chan struct{})
	m.cancel = cancel

	go m.consume(consumerCtx, m.reader, m.messages, m.errs, m.done)

	m.logger.Info("kafka consumer started", "group_id", m.groupID)
	return m.messages, m.errs, nil
}

func (m *Messenger) consume(ctx context.Context, reader messageReader, messages chan<- string, errs chan<- error, done chan<- struct{}) {
	defer close(done)
	defer close(errs)
	defer close(messages)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isNetworkError(err) {
				m.logger.Warn("kafka network error, retrying", "error", err)
				select {
				case <-time.After(retryBackoff):
				case <-ctx.Done():
					return
				}
				continue
			}
			m.sendError(errs, fmt.Errorf("fetch message: %w", err))
			continue
		}

		select {
		case messages <- string(msg.Value):
		case <-ctx.Done():
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.sendError(errs, fmt.Errorf("commit offset %d: %w", msg.Offset, err))
		}
	}
}

func (m *Messenger) sendError(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
		m.logger.Warn("kafka error channel full, dropping error", "error", err)
	}
}

// StopConsumer cancels the consumer and waits for its goroutine to exit.
func (m *Messenger) StopConsumer() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	if cancel == nil {
		m.mu.Unlock()
		return ErrConsumerNotRunning
	}
	m.cancel = nil
	m.done = nil
	m.messages = nil
	m.errs = nil
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("kafka consumer stopped", "group_id", m.groupID)
	return nil
}

// Close stops a running consumer and closes the writer and reader.
// Close is idempotent.
func (m *Messenger) Close() error {
	if err := m.StopConsumer(); err != nil && !errors.Is(err, ErrConsumerNotRunning) {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.writer != nil {
		if err := m.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}
	if m.reader != nil {
		if err := m.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	return errors.Join(errs...)
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
