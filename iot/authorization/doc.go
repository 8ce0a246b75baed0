// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package authorization issues Arrowhead authorization tokens

The authorization core system grants a consumer access to a provider by issuing a
token together with a signature. The token is the consumer's common name and an
expiry, encrypted under the public key of the provider, so that only this provider
can read it. The signature is made with the private key of the authorization system
over the encrypted bytes; providers verify it with the public key which the
certificate authority publishes at /auth.

Issued tokens travel to the consumer inside the orchestration response. The consumer
never decrypts them.
*/
package authorization
