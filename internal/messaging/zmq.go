package messaging

import (
	"context"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

// ZMQPublisher publishes [topic, json] frames on a PUB socket
type ZMQPublisher struct {
	mu       sync.Mutex // zmq sockets are not goroutine safe
	socket   *zmq.Socket
	endpoint string
	source   string
	logger   *log.Logger
}

// NewZMQPublisher binds a PUB socket to endpoint, e.g. "tcp://*:5556"
func NewZMQPublisher(endpoint, source string, logger *log.Logger) (*ZMQPublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket",
			"failed to create ZMQ socket")
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_linger",
			"failed to configure ZMQ socket")
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_bind",
			"failed to bind ZMQ endpoint").
			WithContext("endpoint", endpoint)
	}

	logger = logger.WithComponent("zmq")
	logger.Info("bound ZMQ publisher", "endpoint", endpoint)
	return &ZMQPublisher{socket: socket, endpoint: endpoint, source: source, logger: logger}, nil
}

// Notify implements notify.Notifier. PUB sockets drop frames nobody
// subscribed to, so a nil error only means the frame was queued.
func (z *ZMQPublisher) Notify(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(NewBeaconMessage(z.source, ev), EncodingJSON)
	if err != nil {
		return err
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.socket == nil {
		return errors.New(errors.ErrorTypeNetwork, "zmq_send", "publisher is closed")
	}
	if _, err := z.socket.SendMessage(TopicBeacons, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_send",
			"failed to publish ZMQ message").
			WithContext("endpoint", z.endpoint)
	}

	z.logger.Debug("published ZMQ message", "topic", TopicBeacons, "size", len(data))
	return nil
}

// Close closes the socket
func (z *ZMQPublisher) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil
	return err
}

// ZMQSubscriber reads beacon frames from a publisher
type ZMQSubscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQSubscriber connects a SUB socket to endpoint and subscribes to
// beacon frames
func NewZMQSubscriber(endpoint string, logger *log.Logger) (*ZMQSubscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket",
			"failed to create ZMQ socket")
	}
	if err := socket.SetRcvtimeo(200 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_rcvtimeo",
			"failed to configure ZMQ socket")
	}
	if err := socket.SetSubscribe(TopicBeacons); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_subscribe",
			"failed to subscribe to topic").
			WithContext("topic", TopicBeacons)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect",
			"failed to connect to ZMQ endpoint").
			WithContext("endpoint", endpoint)
	}

	logger = logger.WithComponent("zmq")
	logger.Info("connected to ZMQ endpoint", "endpoint", endpoint)
	return &ZMQSubscriber{socket: socket, endpoint: endpoint, logger: logger}, nil
}

// Listen hands each decoded beacon to handler until ctx is cancelled
func (z *ZMQSubscriber) Listen(ctx context.Context, handler func(BeaconMessage) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		beacon, err := Decode(msg[1], EncodingJSON)
		if err != nil {
			z.logger.WithError(err).Warn("failed to decode ZMQ message")
			continue
		}
		if err := handler(beacon); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", string(msg[0]), "error", err)
		}
	}
}

// Close closes the socket; call it after Listen has returned
func (z *ZMQSubscriber) Close() error {
	return z.socket.Close()
}
