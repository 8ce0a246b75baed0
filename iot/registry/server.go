// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package registry

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
	"github.com/relabs-tech/arrowhead/iot"
)

// Server is an in-memory service registry
type Server struct {
	mutex   sync.RWMutex
	entries []Entry
}

// Builder is a builder helper for the Server
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Path is the base path of the REST routes. Default is /serviceregistry
	Path string
}

// NewServer creates an in-memory service registry and adds the routes
// POST <path>/register and PUT <path>/remove to the router.
func NewServer(b *Builder) *Server {
	if b.Router == nil {
		panic("Router is missing")
	}
	path := b.Path
	if path == "" {
		path = "/serviceregistry"
	}
	s := &Server{}
	s.handleRoutes(b.Router, strings.TrimSuffix(path, "/"))
	return s
}

func sameEntry(a, b Entry) bool {
	return strings.EqualFold(a.Provider.SystemName, b.Provider.SystemName) &&
		strings.EqualFold(a.ProvidedService.ServiceDefinition, b.ProvidedService.ServiceDefinition)
}

// Add registers an entry. It fails with DuplicateEntry if the provider already
// offers the service.
func (s *Server) Add(entry Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, e := range s.entries {
		if sameEntry(e, entry) {
			return failure.New(failure.KindDuplicateEntry, "service "+entry.ProvidedService.ServiceDefinition+
				" of "+entry.Provider.SystemName+" is already registered")
		}
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Remove removes an entry. It fails with DataNotFound if there is no such entry.
func (s *Server) Remove(entry Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i, e := range s.entries {
		if sameEntry(e, entry) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return failure.New(failure.KindDataNotFound, "service "+entry.ProvidedService.ServiceDefinition+
		" of "+entry.Provider.SystemName+" is not registered")
}

// Lookup returns the entries which can serve the requested service, in registration
// order
func (s *Server) Lookup(service iot.Service, metadataSearch bool) []Entry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var found []Entry
	for _, e := range s.entries {
		if e.ProvidedService.Matches(service, metadataSearch) {
			found = append(found, e)
		}
	}
	return found
}

// Entries returns all registered entries
func (s *Server) Entries() []Entry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]Entry(nil), s.entries...)
}

func readEntry(r *http.Request) (Entry, error) {
	var entry Entry
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return entry, failure.BadPayload(err, "cannot read request")
	}
	if err := schema.ValidateArrowhead(body, schema.ServiceRegistryEntryID); err != nil {
		return entry, failure.BadPayload(err, "invalid service registry entry")
	}
	if err := json.Unmarshal(body, &entry); err != nil {
		return entry, failure.BadPayload(err, "invalid service registry entry")
	}
	return entry, nil
}

func (s *Server) handleRoutes(router *mux.Router, path string) {
	logger.Default().Infof("service registry: handle routes %s/register POST and %s/remove PUT", path, path)

	router.HandleFunc(path+"/register", func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimPrefix(path, "/") + "/register"
		entry, err := readEntry(r)
		if err == nil {
			err = s.Add(entry)
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Warn("registration rejected")
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(entry)
	}).Methods(http.MethodPost)

	router.HandleFunc(path+"/remove", func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimPrefix(path, "/") + "/remove"
		entry, err := readEntry(r)
		if err == nil {
			err = s.Remove(entry)
		}
		if err != nil {
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(entry)
	}).Methods(http.MethodPut)
}
