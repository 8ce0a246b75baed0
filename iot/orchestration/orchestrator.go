// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package orchestration

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/arrowhead/core/access"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/iot/authorization"
	"github.com/relabs-tech/arrowhead/iot/registry"
)

// Orchestrator is an in-memory orchestrator
type Orchestrator struct {
	registry *registry.Server
	issuer   *authorization.Issuer
}

// Builder is a builder helper for the Orchestrator
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Path of the orchestration route. Default is /orchestrator/orchestration
	Path string
	// Registry is the service registry the orchestrator looks up. This is mandatory.
	Registry *registry.Server
	// Issuer issues tokens for secured services. Without an issuer, secured services
	// are never returned.
	Issuer *authorization.Issuer
}

// NewOrchestrator creates an in-memory orchestrator and adds the route
// POST <path> to the router
func NewOrchestrator(b *Builder) *Orchestrator {
	if b.Router == nil {
		panic("Router is missing")
	}
	if b.Registry == nil {
		panic("Registry is missing")
	}
	path := b.Path
	if path == "" {
		path = "/orchestrator/orchestration"
	}
	o := &Orchestrator{registry: b.Registry, issuer: b.Issuer}
	o.handleRoutes(b.Router, strings.TrimSuffix(path, "/"))
	return o
}

func preferred(entry registry.Entry, providers []PreferredProvider) bool {
	for _, p := range providers {
		if p.ProviderSystem != nil && strings.EqualFold(p.ProviderSystem.SystemName, entry.Provider.SystemName) {
			return true
		}
	}
	return false
}

// Orchestrate answers a request form. consumerName is the name tokens are issued for,
// the full common name for secure requests.
func (o *Orchestrator) Orchestrate(ctx context.Context, form ServiceRequestForm, consumerName string) (*Response, error) {
	rlog := logger.FromContext(ctx)
	flags := form.OrchestrationFlags
	candidates := o.registry.Lookup(form.RequestedService, flags[FlagMetadataSearch])

	var first, rest []registry.Entry
	for _, e := range candidates {
		if preferred(e, form.PreferredProviders) {
			first = append(first, e)
		} else if !flags[FlagOnlyPreferred] {
			rest = append(rest, e)
		}
	}

	response := &Response{Response: []Entry{}}
	for _, e := range append(first, rest...) {
		entry := Entry{
			Provider:   e.Provider,
			Service:    e.ProvidedService,
			ServiceURI: e.ServiceURI,
		}
		if e.ProvidedService.IsSecured() {
			if o.issuer == nil {
				rlog.Warnf("skipping secured provider %s: no token issuer", e.Provider.SystemName)
				continue
			}
			providerKey, err := e.Provider.PublicKey()
			if err != nil {
				rlog.WithError(err).Warnf("skipping secured provider %s", e.Provider.SystemName)
				continue
			}
			entry.AuthorizationToken, entry.Signature, err = o.issuer.Issue(consumerName, providerKey)
			if err != nil {
				return nil, err
			}
		}
		response.Response = append(response.Response, entry)
	}
	rlog.Infof("orchestration of %s for %s: %d providers", form.RequestedService.ServiceDefinition,
		consumerName, len(response.Response))
	return response, nil
}

func (o *Orchestrator) handleRoutes(router *mux.Router, path string) {
	logger.Default().Infof("orchestrator: handle route %s POST", path)
	origin := strings.TrimPrefix(path, "/")

	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		var form ServiceRequestForm
		body, err := io.ReadAll(r.Body)
		if err == nil {
			err = json.Unmarshal(body, &form)
		}
		if err != nil {
			failure.WriteArrowheadHTTP(w, failure.BadPayload(err, "invalid service request form"), origin)
			return
		}
		if form.RequestedService.ServiceDefinition == "" {
			failure.WriteArrowheadHTTP(w, failure.BadPayload(nil, "requested service is missing"), origin)
			return
		}

		consumerName := form.RequesterSystem.SystemName
		if peer, ok := access.PeerFromRequest(r); ok {
			consumerName = peer.CommonName
		}
		if consumerName == "" {
			failure.WriteArrowheadHTTP(w, failure.BadPayload(nil, "requester system is missing"), origin)
			return
		}

		response, err := o.Orchestrate(r.Context(), form, consumerName)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4810")
			failure.WriteArrowheadHTTP(w, err, origin)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(response)
	}).Methods(http.MethodPost)
}
