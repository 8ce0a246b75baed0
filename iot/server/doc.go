// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package server runs Arrowhead systems over plain HTTP or mutual TLS.

PrepareSecure loads keystore and truststore from the configuration and bootstraps
them if they are missing or invalid. NewTLSConfig refuses a server certificate
whose common name is not a valid Arrowhead name, so an invalid identity never
reaches a listener.

Clients of Arrowhead providers use ClientTLSConfig. Providers are addressed by IP
and their certificates carry no subject alternative names, therefore the chain is
verified against the truststore without checking the host name.
*/
package server
