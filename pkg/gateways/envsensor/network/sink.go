package network

import (
	"context"
	"fmt"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/pkg/errors"
)

var (
	// ErrTransport marks connectivity faults worth retrying.
	ErrTransport = errors.New("telemetry transport error")
	// ErrRejected marks requests the sink refused; resending will not help.
	ErrRejected = errors.New("telemetry rejected by sink")
)

// Sink sends one set of reading fields on behalf of a registered device.
type Sink interface {
	Send(ctx context.Context, device entities.Device, fields entities.Fields) error
	Close() error
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

func (e *classifiedError) Is(target error) bool { return target == e.kind }

func transportError(err error) error {
	return &classifiedError{kind: ErrTransport, err: err}
}

func rejectedError(err error) error {
	return &classifiedError{kind: ErrRejected, err: err}
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// NewSink builds the sink selected by the configuration.
func NewSink(conf entities.SinkConfig) (Sink, error) {
	switch conf.Kind {
	case entities.SinkAmbient:
		return NewAmbientSink(conf.URL, conf.Timeout), nil
	case entities.SinkAMQP:
		handler := NewAMQPHandler(NewAmqpConnection(conf.URL))
		if err := handler.Start(); err != nil {
			return nil, errors.Wrap(err, "amqp connection")
		}
		return NewAMQPSink(handler, conf.Exchange), nil
	case entities.SinkMQTT:
		return NewMQTTSink(conf.URL, conf.TopicTemplate, conf.Timeout)
	}
	return nil, errors.Errorf("unknown sink kind %q", conf.Kind)
}
