// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package orchestration finds providers for a consumer.

The consumer sends a ServiceRequestForm to the orchestrator and receives a list of
candidate providers. Only the first candidate is used; there is no fallback to the
next one if it fails. For secured services the orchestrator attaches an
authorization token and its signature, which the consumer passes on unchanged with
every request to the provider.

Orchestrator is an in-memory orchestrator on top of the in-memory service registry
of package registry, for local setups and tests.
*/
package orchestration

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/arrowhead/core/client"
	"github.com/relabs-tech/arrowhead/core/failure"
	"github.com/relabs-tech/arrowhead/core/logger"
	"github.com/relabs-tech/arrowhead/core/schema"
	"github.com/relabs-tech/arrowhead/iot"
)

// Orchestration flag names
const (
	FlagOverrideStore    = "overrideStore"
	FlagPingProviders    = "pingProviders"
	FlagMetadataSearch   = "metadataSearch"
	FlagEnableInterCloud = "enableInterCloud"
	FlagMatchmaking      = "matchmaking"
	FlagOnlyPreferred    = "onlyPreferred"
	FlagEnableQoS        = "enableQoS"
)

// Flags are the orchestration flags of a request
type Flags map[string]bool

// DefaultFlags returns the flags consumers usually send: bypass the orchestration
// store, look up the registry and stay inside the local cloud
func DefaultFlags() Flags {
	return Flags{
		FlagOverrideStore:    true,
		FlagPingProviders:    false,
		FlagMetadataSearch:   false,
		FlagEnableInterCloud: false,
	}
}

// Cloud identifies a local cloud
type Cloud struct {
	Operator  string `json:"operator"`
	CloudName string `json:"cloudName"`
}

// PreferredProvider names a provider the consumer prefers
type PreferredProvider struct {
	ProviderSystem *iot.System `json:"providerSystem,omitempty"`
	ProviderCloud  *Cloud      `json:"providerCloud,omitempty"`
}

// ServiceRequestForm is the orchestration request
type ServiceRequestForm struct {
	RequesterSystem    iot.System          `json:"requesterSystem"`
	RequesterCloud     *Cloud              `json:"requesterCloud,omitempty"`
	RequestedService   iot.Service         `json:"requestedService"`
	OrchestrationFlags Flags               `json:"orchestrationFlags"`
	PreferredProviders []PreferredProvider `json:"preferredProviders,omitempty"`
}

// Entry is one candidate of an orchestration response
type Entry struct {
	Provider           iot.System  `json:"provider"`
	Service            iot.Service `json:"service"`
	ServiceURI         string      `json:"serviceURI,omitempty"`
	AuthorizationToken string      `json:"authorizationToken,omitempty"`
	Signature          string      `json:"signature,omitempty"`
}

// Response is the orchestration response
type Response struct {
	Response []Entry `json:"response"`
}

// Client sends orchestration requests
type Client struct {
	client client.Client
}

// NewClient creates an orchestration client. The client's URL is the orchestration
// endpoint, e.g. https://127.0.0.1:8441/orchestrator/orchestration
func NewClient(c client.Client) *Client {
	return &Client{client: c}
}

// Orchestrate sends form and returns all candidates
func (o *Client) Orchestrate(ctx context.Context, form ServiceRequestForm) (*Response, error) {
	var raw []byte
	if _, err := o.client.WithContext(ctx).RawPost("", form, &raw); err != nil {
		return nil, err
	}
	if err := schema.ValidateArrowhead(raw, schema.OrchestrationResponseID); err != nil {
		return nil, failure.BadPayload(err, "invalid orchestration response")
	}
	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, failure.BadPayload(err, "invalid orchestration response")
	}
	return &response, nil
}

// RequestAccess asks the orchestrator for a provider of service and returns the
// binding to the first candidate. An empty candidate list fails with DataNotFound.
// A secured candidate without token or signature fails with BadPayload.
func (o *Client) RequestAccess(ctx context.Context, requester iot.System, service iot.Service, flags Flags) (*ProviderBinding, error) {
	rlog := logger.FromContext(ctx)
	if flags == nil {
		flags = DefaultFlags()
	}
	response, err := o.Orchestrate(ctx, ServiceRequestForm{
		RequesterSystem:    requester,
		RequestedService:   service,
		OrchestrationFlags: flags,
	})
	if err != nil {
		return nil, err
	}
	if len(response.Response) == 0 {
		return nil, failure.New(failure.KindDataNotFound, "orchestrator returned no providers for "+service.ServiceDefinition)
	}
	if len(response.Response) > 1 {
		rlog.Debugf("orchestrator returned %d providers, using the first one", len(response.Response))
	}
	binding, err := NewBinding(response.Response[0])
	if err != nil {
		return nil, err
	}
	rlog.Infof("received provider %s for %s", binding.Provider.SystemName, service.ServiceDefinition)
	return binding, nil
}
