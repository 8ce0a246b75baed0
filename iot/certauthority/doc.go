// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package certauthority implements the REST interface of an Arrowhead certificate authority

The authority holds a self-signed root and a cloud level intermediate certificate. It signs
certificate requests of systems of its local cloud with the intermediate, and it publishes the
public key of the authorization system which signs access tokens.

The API provides the following REST routes below the configured path (default /ca):
	GET  /ca        the cloud suffix, e.g. cloudX.opY.arrowhead.eu, as plain text
	POST /ca        signs {"encodedCertRequest": base64 DER PKCS#10}
	GET  /ca/auth   the authorization public key as PEM

A successful signing request returns
	encodedSignedCert:	the new certificate of the system
	intermediateCert:	the cloud certificate
	rootCert:		the root certificate
each as base64 encoded DER.

The subject common name of a certificate request must consist of the system name followed by
the cloud suffix. Anything else is rejected with 400 Bad Request.

The production certificate authority is an external core system. This implementation serves
local development setups and tests, which is why it keeps all keys in memory.
*/
package certauthority
