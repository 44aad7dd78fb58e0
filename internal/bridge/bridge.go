package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
	"github.com/nerrad567/stsync/internal/infrastructure/mqtt"
)

// DefaultQueueSize bounds outbound messages waiting for the broker.
const DefaultQueueSize = 256

// Bridge errors.
var (
	ErrClientRequired    = errors.New("bridge: MQTT client is required")
	ErrCommanderRequired = errors.New("bridge: commander is required")
	ErrStopped           = errors.New("bridge: stopped")
)

// Client is the MQTT surface the bridge uses. *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Commander runs device commands. *command.Dispatcher satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, deviceID, capability, value string) error
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Client Client

	// Commander may be left nil and supplied with SetCommander before
	// Start, since the dispatcher is usually built after the registry
	// that this bridge observes.
	Commander Commander

	// Topics defaults to the "stsync" prefix.
	Topics *mqtt.Topics

	// QoS is used for every publish and the command subscription.
	QoS byte

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge publishes registry notifications to MQTT and runs commands
// received from it. It implements device.Observer.
type Bridge struct {
	client    Client
	commander Commander
	topics    mqtt.Topics
	qos       byte
	logger    Logger

	mu       sync.RWMutex
	started  bool
	stopping bool
	closed   bool
	queue    chan outbound
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	commands sync.WaitGroup

	// known holds device IDs with a retained state topic.
	knownMu sync.Mutex
	known   map[string]struct{}

	dropped atomic.Int64
}

// New creates a Bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, ErrClientRequired
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	topics := mqtt.NewTopics(mqtt.DefaultTopicPrefix)
	if opts.Topics != nil {
		topics = *opts.Topics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:    opts.Client,
		commander: opts.Commander,
		topics:    topics,
		qos:       opts.QoS,
		logger:    noopLogger{},
		queue:     make(chan outbound, opts.QueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		known:     make(map[string]struct{}),
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetCommander sets the command sink. Must be called before Start.
func (b *Bridge) SetCommander(c Commander) {
	b.commander = c
}

// Start launches the publish worker and subscribes to command topics.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return ErrStopped
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	if b.commander == nil {
		b.mu.Unlock()
		return ErrCommanderRequired
	}
	b.started = true
	// Commands outlive ctx; Stop cancels them once its own deadline passes
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Unlock()

	go b.run()

	topic := b.topics.AllDeviceCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix(), "commands", topic)
	return nil
}

// Dropped returns how many messages were discarded because the queue was full.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// OnDeviceListLoaded implements device.Observer. It publishes the list and
// clears retained state for devices that are no longer listed.
func (b *Bridge) OnDeviceListLoaded(devices []device.Device) {
	msg := DeviceListMessage{
		Devices:   devices,
		Count:     len(devices),
		Timestamp: time.Now().UTC(),
	}
	if msg.Devices == nil {
		msg.Devices = []device.Device{}
	}
	b.enqueueJSON(b.topics.Devices(), msg, true)

	current := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		current[d.ID] = struct{}{}
	}

	b.knownMu.Lock()
	for id := range b.known {
		if _, ok := current[id]; !ok {
			// An empty retained payload deletes the retained message
			b.enqueue(outbound{topic: b.topics.DeviceState(id), retained: true})
			delete(b.known, id)
		}
	}
	b.knownMu.Unlock()
}

// OnDeviceStateChanged implements device.Observer.
func (b *Bridge) OnDeviceStateChanged(deviceID string, state device.DeviceState) {
	if !mqtt.ValidTopicLevel(deviceID) {
		b.logger.Warn("device ID cannot be used as a topic level, state not published", "device_id", deviceID)
		return
	}

	b.knownMu.Lock()
	b.known[deviceID] = struct{}{}
	b.knownMu.Unlock()

	b.enqueueJSON(b.topics.DeviceState(deviceID), StateMessage{
		DeviceID: deviceID,
		State:    state,
		Control:  state.Control(),
	}, true)
}

// OnLoadError implements device.Observer.
func (b *Bridge) OnLoadError(message string) {
	b.enqueueJSON(b.topics.LoadError(), LoadErrorMessage{
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, false)
}

// handleCommand is the MQTT handler for command topics. The command runs on
// its own goroutine; the result is published as an ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := b.topics.CommandDeviceID(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(AckMessage{
			DeviceID: deviceID,
			Status:   AckRejected,
			Code:     ErrCodeInvalidPayload,
			Message:  "payload must be a JSON object with capability and value",
		})
		return fmt.Errorf("parsing command for %s: %w", deviceID, err)
	}

	b.mu.RLock()
	if b.stopping {
		b.mu.RUnlock()
		return ErrStopped
	}
	b.commands.Add(1)
	b.mu.RUnlock()

	b.logger.Info("received command",
		"device_id", deviceID,
		"capability", cmd.Capability,
		"value", cmd.Value,
		"command_id", cmd.ID,
	)

	go func() {
		defer b.commands.Done()
		b.execute(deviceID, cmd)
	}()
	return nil
}

func (b *Bridge) execute(deviceID string, cmd CommandMessage) {
	err := b.commander.SendCommand(b.ctx, deviceID, cmd.Capability, cmd.Value)

	ack := AckMessage{
		ID:         cmd.ID,
		DeviceID:   deviceID,
		Capability: cmd.Capability,
		Value:      cmd.Value,
		Status:     AckAccepted,
	}
	if err != nil {
		ack.Status, ack.Code = classify(err)
		ack.Message = err.Error()
		b.logger.Warn("command via mqtt failed", "device_id", deviceID, "error", err)
	}
	b.publishAck(ack)
}

// classify maps a dispatcher error to an ack status and code.
func classify(err error) (AckStatus, string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return AckRejected, ErrCodeNotFound
	case errors.Is(err, device.ErrInvalid):
		return AckRejected, ErrCodeInvalidCommand
	case errors.Is(err, gateway.ErrTimeout):
		return AckTimeout, ErrCodeTimeout
	default:
		return AckFailed, ErrCodeCommandFailed
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	ack.Timestamp = time.Now().UTC()
	if !mqtt.ValidTopicLevel(ack.DeviceID) {
		return
	}
	b.enqueueJSON(b.topics.DeviceAck(ack.DeviceID), ack, false)
}

func (b *Bridge) enqueueJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal mqtt payload", "topic", topic, "error", err)
		return
	}
	b.enqueue(outbound{topic: topic, payload: payload, retained: retained})
}

// enqueue never blocks; it is called under registry locks.
func (b *Bridge) enqueue(msg outbound) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.queue <- msg:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("mqtt publish queue full, dropping message",
			"topic", msg.topic,
			"dropped_total", n,
		)
	}
}

func (b *Bridge) run() {
	defer close(b.done)

	for msg := range b.queue {
		if err := b.client.Publish(msg.topic, msg.payload, b.qos, msg.retained); err != nil {
			b.logger.Warn("failed to publish mqtt message", "topic", msg.topic, "error", err)
		}
	}
}

// Stop unsubscribes from commands, waits for running commands to publish
// their acks, then drains the publish queue. If ctx expires first,
// running commands are cancelled and unsent messages are lost.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	started := b.started
	b.mu.Unlock()

	defer b.cancel()

	if !started {
		b.closeQueue()
		return nil
	}

	if err := b.client.Unsubscribe(b.topics.AllDeviceCommands()); err != nil {
		b.logger.Warn("failed to unsubscribe from command topics", "error", err)
	}

	commandsDone := make(chan struct{})
	go func() {
		b.commands.Wait()
		close(commandsDone)
	}()

	select {
	case <-commandsDone:
	case <-ctx.Done():
		b.cancel()
		b.closeQueue()
		return fmt.Errorf("waiting for mqtt commands: %w", ctx.Err())
	}

	b.closeQueue()

	select {
	case <-b.done:
		b.logger.Info("mqtt bridge stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining mqtt queue: %w", ctx.Err())
	}
}

func (b *Bridge) closeQueue() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
}
