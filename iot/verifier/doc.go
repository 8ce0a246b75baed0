// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package verifier checks authorization tokens on the provider side.

Every request which arrives over mutual TLS must carry the query parameters token
and signature. The verifier runs these steps in order and stops at the first
failure:

	decode       base64 of token and signature, after space repair   500
	signature    issuer signature over the ciphertext bytes          401
	decrypt      token with the provider's private key, parse JSON   500
	identity     first label of the token's consumer name must equal
	             the first label of the peer's common name           401 permission denied
	expiry       e == 0 or e > now in epoch milliseconds             401 token expired

The comparison of system names is case-insensitive. A secure request without token
or signature is rejected with 401.

Requests which did not arrive over mutual TLS bypass the verifier. Insecure
deployments rely on network isolation alone.

The verifier holds only immutable key material and is safe for any number of
concurrent requests. Panics inside the verification steps are answered with 500.
*/
package verifier
