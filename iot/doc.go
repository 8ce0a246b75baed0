// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package iot provides the Arrowhead system model

The subpackages implement the secure side of an Arrowhead local cloud:

	certauthority   in-memory certificate authority core system
	bootstrap       obtains keystore and truststore from the certificate authority
	authorization   issues tokens which bind a consumer to one provider
	orchestration   consumer side service lookup and an in-memory orchestrator
	registry        service registration and an in-memory service registry
	verifier        provider side token verification middleware
	server          mutual TLS configuration and the HTTP server of a system

This package holds the types which several of them exchange on the wire.
*/
package iot
