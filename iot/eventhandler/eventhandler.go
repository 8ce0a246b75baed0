// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package eventhandler publishes and subscribes to events of the Arrowhead event
handler.

A publisher sends a PublishRequest, a subscriber registers an EventFilter with a
notify URI. The event handler posts each matching Event to the notify URI of every
subscriber and reports the delivery results back to the delivery complete URI of
the publisher. Client talks to a remote event handler, Server is an in-memory event
handler for local setups and tests. NotifyHandler and FeedbackHandler serve the
receiving ends.
*/
package eventhandler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/config"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
	"github.com/relabs-tech/arrowhead/iot"
)

// Event is what a subscriber receives
type Event struct {
	EventType string            `json:"eventType"`
	Payload   string            `json:"payload"`
	TimeStamp time.Time         `json:"timeStamp"`
	MetaData  map[string]string `json:"metaData,omitempty"`
}

// PublishRequest is an event together with its source. If DeliveryCompleteURI is
// set, the event handler posts the delivery results there.
type PublishRequest struct {
	Source iot.System `json:"source"`
	Event
	DeliveryCompleteURI string `json:"deliveryCompleteUri,omitempty"`
}

// EventFilter is the subscription of a subscriber to one event type
type EventFilter struct {
	EventType        string            `json:"eventType"`
	SubscriberSystem iot.System        `json:"subscriberSystem"`
	Sources          []iot.System      `json:"sources,omitempty"`
	StartDate        *time.Time        `json:"startDate,omitempty"`
	EndDate          *time.Time        `json:"endDate,omitempty"`
	FilterMetaData   map[string]string `json:"filterMetaData,omitempty"`
	NotifyURI        string            `json:"notifyUri"`
	MatchMetaData    bool              `json:"matchMetaData"`
}

// Matches returns true if the filter selects event of source. Event types and
// system names compare case-insensitive. The dates are inclusive.
func (f EventFilter) Matches(source iot.System, event Event) bool {
	if !strings.EqualFold(f.EventType, event.EventType) {
		return false
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if strings.EqualFold(s.SystemName, source.SystemName) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartDate != nil && event.TimeStamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && event.TimeStamp.After(*f.EndDate) {
		return false
	}
	if f.MatchMetaData {
		for k, v := range f.FilterMetaData {
			if event.MetaData[k] != v {
				return false
			}
		}
	}
	return true
}

// SystemURL resolves uri against the address of system. Absolute URLs are returned
// unchanged.
func SystemURL(system iot.System, uri string, secure bool) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	return config.URL(system.Address, system.Port, uri, secure)
}

// SystemFromConfig returns the system which the local server of role represents
func SystemFromConfig(c *config.Config, role config.Role, secure bool) (iot.System, error) {
	system := iot.System{
		SystemName: c.SystemName(secure),
		Address:    c.String(config.KeyAddress, "127.0.0.1"),
		Port:       c.ListenPort(role, secure),
	}
	if system.SystemName == "" {
		return system, failure.Config("system name is not configured")
	}
	return system, nil
}

// FiltersFromConfig returns one filter per configured event type of a subscriber
func FiltersFromConfig(c *config.Config, subscriber iot.System) []EventFilter {
	var filters []EventFilter
	for _, eventType := range c.List(config.KeyEventTypes) {
		filters = append(filters, EventFilter{
			EventType:        eventType,
			SubscriberSystem: subscriber,
			NotifyURI:        c.String(config.KeyNotifyURI, ""),
		})
	}
	return filters
}

// encode marshals v and validates it against schemaID
func encode(v interface{}, schemaID string) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, failure.BadPayload(err, "cannot encode message")
	}
	if err := schema.ValidateArrowhead(body, schemaID); err != nil {
		return nil, failure.BadPayload(err, "invalid message")
	}
	return body, nil
}

// decode reads the body of r, validates it against schemaID and unmarshals it into v
func decode(r *http.Request, schemaID string, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return failure.BadPayload(err, "cannot read request")
	}
	if err := schema.ValidateArrowhead(body, schemaID); err != nil {
		return failure.BadPayload(err, "invalid message")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return failure.BadPayload(err, "invalid message")
	}
	return nil
}

// Client publishes and subscribes through a remote event handler
type Client struct {
	client client.Client
}

// NewClient creates an event handler client. The client's URL is the base URL of
// the event handler, e.g. http://127.0.0.1:8454/eventhandler
func NewClient(c client.Client) *Client {
	return &Client{client: c}
}

// Publish sends an event. A zero time stamp is set to now.
func (e *Client) Publish(ctx context.Context, request PublishRequest) error {
	if request.TimeStamp.IsZero() {
		request.TimeStamp = time.Now().UTC()
	}
	body, err := encode(request, schema.PublishEventID)
	if err != nil {
		return err
	}
	if _, err := e.client.WithContext(ctx).RawPost("/publish", body, nil); err != nil {
		return err
	}
	logger.FromContext(ctx).Debugf("published %s event of %s", request.EventType, request.Source.SystemName)
	return nil
}

// Subscribe registers filter. If the event handler already knows a subscription of
// the subscriber to the event type, it is removed and registered again, once.
func (e *Client) Subscribe(ctx context.Context, filter EventFilter) error {
	rlog := logger.FromContext(ctx)
	body, err := encode(filter, schema.EventFilterID)
	if err != nil {
		return err
	}
	c := e.client.WithContext(ctx)
	_, err = c.RawPost("/subscribe", body, nil)
	if failure.IsKind(err, failure.KindDuplicateEntry) {
		rlog.Infof("%s is already subscribed to %s, unsubscribing and subscribing again",
			filter.SubscriberSystem.SystemName, filter.EventType)
		if err := e.Unsubscribe(ctx, filter.EventType, filter.SubscriberSystem); err != nil {
			return err
		}
		_, err = c.RawPost("/subscribe", body, nil)
	}
	if err != nil {
		return err
	}
	rlog.Infof("%s subscribed to %s", filter.SubscriberSystem.SystemName, filter.EventType)
	return nil
}

// Unsubscribe removes the subscription of subscriber to eventType
func (e *Client) Unsubscribe(ctx context.Context, eventType string, subscriber iot.System) error {
	query := url.Values{
		"event_type":  {eventType},
		"system_name": {subscriber.SystemName},
	}
	if _, err := e.client.WithContext(ctx).RawDelete("/unsubscribe?" + query.Encode()); err != nil {
		return err
	}
	logger.FromContext(ctx).Infof("%s unsubscribed from %s", subscriber.SystemName, eventType)
	return nil
}

// NotifyHandler returns the handler of a subscriber's notify URI. Valid events are
// passed to fn, an error of fn is returned to the event handler.
func NotifyHandler(fn func(ctx context.Context, event Event) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimPrefix(r.URL.Path, "/")
		var event Event
		err := decode(r, schema.EventID, &event)
		if err == nil {
			err = fn(r.Context(), event)
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Warn("event rejected")
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// FeedbackHandler returns the handler of a publisher's delivery complete URI. fn
// receives the delivery result per subscriber system name.
func FeedbackHandler(fn func(ctx context.Context, results map[string]bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := map[string]bool{}
		if err := decode(r, schema.DeliveryResultsID, &results); err != nil {
			failure.WriteArrowheadHTTP(w, err, strings.TrimPrefix(r.URL.Path, "/"))
			return
		}
		fn(r.Context(), results)
		w.WriteHeader(http.StatusOK)
	}
}
