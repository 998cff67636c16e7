// internal/adapter/location/nats.go

package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// DefaultSubjectPrefix is the root of the position subjects
const DefaultSubjectPrefix = "position"

// NATSProvider reads a device's fixes from NATS. Fixes and errors arrive on
// <prefix>.<device>.fix; one-shot requests are published on
// <prefix>.<device>.request.
type NATSProvider struct {
	conn    *nats.Conn
	device  string
	prefix  string
	watches *watchSet
	logger  logging.Logger
}

var _ Device = (*NATSProvider)(nil)

// NewNATSProvider creates a provider for one device
func NewNATSProvider(conn *nats.Conn, device, prefix string, logger logging.Logger) (*NATSProvider, error) {
	if err := ValidateDeviceID(device); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &NATSProvider{
		conn:    conn,
		device:  device,
		prefix:  prefix,
		watches: newWatchSet(),
		logger:  logger.With(logging.String("device", device)),
	}, nil
}

// ValidateDeviceID rejects ids that cannot be used as a subject token
func ValidateDeviceID(device string) error {
	if device == "" {
		return fmt.Errorf("device id is required")
	}
	if len(device) > 128 || strings.ContainsAny(device, ".*> \t\r\n") {
		return fmt.Errorf("invalid device id %q", device)
	}
	return nil
}

// FixSubject returns the subject carrying the device's fixes
func (p *NATSProvider) FixSubject() string {
	return fmt.Sprintf("%s.%s.fix", p.prefix, p.device)
}

// RequestSubject returns the subject carrying one-shot requests
func (p *NATSProvider) RequestSubject() string {
	return fmt.Sprintf("%s.%s.request", p.prefix, p.device)
}

// CurrentPosition publishes a request and waits for the next fix
func (p *NATSProvider) CurrentPosition(ctx context.Context, opts geo.Options) (geo.Position, error) {
	sub, err := p.conn.SubscribeSync(p.FixSubject())
	if err != nil {
		return geo.Position{}, geo.NewGeolocationError(geo.CodePositionUnavailable,
			fmt.Sprintf("error subscribing to fixes: %v", err))
	}
	defer sub.Unsubscribe()

	data, err := json.Marshal(NewRequest(opts))
	if err != nil {
		return geo.Position{}, fmt.Errorf("error marshaling request: %w", err)
	}
	if err := p.conn.Publish(p.RequestSubject(), data); err != nil {
		return geo.Position{}, geo.NewGeolocationError(geo.CodePositionUnavailable,
			fmt.Sprintf("error publishing request: %v", err))
	}

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return geo.Position{}, geo.AsGeolocationError(ctxErr)
			}
			return geo.Position{}, geo.AsGeolocationError(err)
		}

		ev, err := DecodeFix(msg.Data)
		if err != nil {
			p.logger.Warn(ctx, "ignoring malformed fix", logging.Err(err))
			continue
		}
		if ev.Err != nil {
			return geo.Position{}, ev.Err
		}
		return *ev.Position, nil
	}
}

// Watch subscribes to the fix subject
func (p *NATSProvider) Watch(_ geo.Options) (geo.WatchID, <-chan geo.LocationEvent, error) {
	id, events := p.watches.add(nil)

	sub, err := p.conn.Subscribe(p.FixSubject(), func(msg *nats.Msg) {
		ev, err := DecodeFix(msg.Data)
		if err != nil {
			p.logger.Warn(context.Background(), "ignoring malformed fix", logging.Err(err))
			return
		}
		if !p.watches.send(id, ev) {
			p.logger.Debug(context.Background(), "fix dropped", logging.Int("watch", int(id)))
		}
	})
	if err != nil {
		p.watches.remove(id)
		return 0, nil, geo.NewGeolocationError(geo.CodePositionUnavailable,
			fmt.Sprintf("error subscribing to fixes: %v", err))
	}

	p.watches.setStop(id, func() {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn(context.Background(), "error unsubscribing", logging.Err(err))
		}
	})
	return id, events, nil
}

// ClearWatch unsubscribes and closes the subscription channel
func (p *NATSProvider) ClearWatch(id geo.WatchID) {
	p.watches.remove(id)
}

// Push publishes an event on behalf of the device
func (p *NATSProvider) Push(ev geo.LocationEvent) error {
	data, err := json.Marshal(FixFromEvent(ev))
	if err != nil {
		return fmt.Errorf("error marshaling fix: %w", err)
	}
	return p.conn.Publish(p.FixSubject(), data)
}

// OnRequest subscribes handler to the request subject
func (p *NATSProvider) OnRequest(handler func(geo.Options)) (func(), error) {
	sub, err := p.conn.Subscribe(p.RequestSubject(), func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			p.logger.Warn(context.Background(), "ignoring malformed request", logging.Err(err))
			return
		}
		handler(req.Options())
	})
	if err != nil {
		return nil, fmt.Errorf("error subscribing to requests: %w", err)
	}
	// the request must not be published before the subscription is live
	if err := p.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("error flushing subscription: %w", err)
	}

	return func() {
		sub.Unsubscribe()
	}, nil
}

// Close ends all subscriptions. The connection stays open.
func (p *NATSProvider) Close() error {
	p.watches.closeAll()
	return nil
}
