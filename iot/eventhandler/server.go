// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package eventhandler

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
	"github.com/relabs-tech/arrowhead/iot/server"
)

// Server is an in-memory event handler
type Server struct {
	mutex     sync.RWMutex
	filters   []EventFilter
	tlsConfig *tls.Config
	pending   sync.WaitGroup
}

// Builder is a builder helper for the Server
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Path is the base path of the REST routes. Default is /eventhandler
	Path string
	// TLSConfig is the client configuration for deliveries. With a configuration,
	// events are delivered over https and each subscriber must present the
	// certificate of its own system name.
	TLSConfig *tls.Config
}

// NewServer creates an in-memory event handler and adds the routes
// POST <path>/publish, POST <path>/subscribe and DELETE <path>/unsubscribe to the
// router.
func NewServer(b *Builder) *Server {
	if b.Router == nil {
		panic("Router is missing")
	}
	path := b.Path
	if path == "" {
		path = "/eventhandler"
	}
	s := &Server{tlsConfig: b.TLSConfig}
	s.handleRoutes(b.Router, strings.TrimSuffix(path, "/"))
	return s
}

func sameSubscription(a, b EventFilter) bool {
	return strings.EqualFold(a.EventType, b.EventType) &&
		strings.EqualFold(a.SubscriberSystem.SystemName, b.SubscriberSystem.SystemName)
}

// Subscribe adds a filter. It fails with DuplicateEntry if the subscriber is already
// subscribed to the event type.
func (s *Server) Subscribe(filter EventFilter) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, f := range s.filters {
		if sameSubscription(f, filter) {
			return failure.New(failure.KindDuplicateEntry, filter.SubscriberSystem.SystemName+
				" is already subscribed to "+filter.EventType)
		}
	}
	s.filters = append(s.filters, filter)
	return nil
}

// Unsubscribe removes the subscription of subscriberName to eventType. It fails with
// DataNotFound if there is no such subscription.
func (s *Server) Unsubscribe(eventType, subscriberName string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i, f := range s.filters {
		if strings.EqualFold(f.EventType, eventType) && strings.EqualFold(f.SubscriberSystem.SystemName, subscriberName) {
			s.filters = append(s.filters[:i], s.filters[i+1:]...)
			return nil
		}
	}
	return failure.New(failure.KindDataNotFound, subscriberName+" is not subscribed to "+eventType)
}

// Subscriptions returns all filters
func (s *Server) Subscriptions() []EventFilter {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]EventFilter(nil), s.filters...)
}

// Publish delivers the event of request to every matching subscriber and returns
// the result per subscriber system name. If the request has a delivery complete URI,
// the results are posted there as well.
func (s *Server) Publish(ctx context.Context, request PublishRequest) map[string]bool {
	rlog := logger.FromContext(ctx)
	secure := s.tlsConfig != nil
	results := map[string]bool{}
	for _, f := range s.Subscriptions() {
		if !f.Matches(request.Source, request.Event) {
			continue
		}
		target := SystemURL(f.SubscriberSystem, f.NotifyURI, secure)
		_, err := s.client(target, f.SubscriberSystem.SystemName).WithContext(ctx).RawPost("", request.Event, nil)
		if err != nil {
			rlog.WithError(err).Warnf("cannot deliver %s event to %s", request.EventType, f.SubscriberSystem.SystemName)
		}
		results[f.SubscriberSystem.SystemName] = err == nil
	}

	if request.DeliveryCompleteURI != "" {
		target := SystemURL(request.Source, request.DeliveryCompleteURI, secure)
		if _, err := s.client(target, request.Source.SystemName).WithContext(ctx).RawPost("", results, nil); err != nil {
			rlog.WithError(err).Warnf("cannot report delivery to %s", request.Source.SystemName)
		}
	}
	return results
}

// Wait blocks until all deliveries started by the publish route are done
func (s *Server) Wait() {
	s.pending.Wait()
}

func (s *Server) client(target, systemName string) client.Client {
	if s.tlsConfig == nil {
		return client.NewWithURL(target)
	}
	return client.NewWithURLAndTLS(target, server.PinPeer(s.tlsConfig, systemName))
}

func (s *Server) handleRoutes(router *mux.Router, path string) {
	logger.Default().Infof("event handler: handle routes %s/publish POST, %s/subscribe POST and %s/unsubscribe DELETE",
		path, path, path)

	router.HandleFunc(path+"/publish", func(w http.ResponseWriter, r *http.Request) {
		var request PublishRequest
		if err := decode(r, schema.PublishEventID, &request); err != nil {
			failure.WriteArrowheadHTTP(w, err, strings.TrimPrefix(path, "/")+"/publish")
			return
		}
		ctx, _ := logger.ContextWithLoggerIdentity(context.Background(), request.Source.SystemName)
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.Publish(ctx, request)
		}()
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	router.HandleFunc(path+"/subscribe", func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimPrefix(path, "/") + "/subscribe"
		var filter EventFilter
		err := decode(r, schema.EventFilterID, &filter)
		if err == nil {
			err = s.Subscribe(filter)
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Warn("subscription rejected")
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(filter)
	}).Methods(http.MethodPost)

	router.HandleFunc(path+"/unsubscribe", func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimPrefix(path, "/") + "/unsubscribe"
		eventType := r.URL.Query().Get("event_type")
		subscriberName := r.URL.Query().Get("system_name")
		var err error
		if eventType == "" || subscriberName == "" {
			err = failure.BadPayload(nil, "event_type and system_name are required")
		} else {
			err = s.Unsubscribe(eventType, subscriberName)
		}
		if err != nil {
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodDelete)
}
