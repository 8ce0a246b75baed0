// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package bootstrap obtains the certificates of a system from the Arrowhead
certificate authority.

EnsureCredentials first looks at the keystore and truststore named in the
configuration. If they load and form a valid pair, the certificate authority is
not contacted at all. Otherwise Bootstrap runs:

 1. check with a plain TCP connection that the certificate authority is reachable
 2. GET the cloud suffix and derive <system name>.<cloud suffix>
 3. generate a 2048 bit RSA key and a certificate request for that name
 4. POST the request and decode signed, intermediate and root certificate
 5. providers also GET <ca>/auth, the public key of the token issuer
 6. write <system>.p12, truststore.p12 and authorization.pub and update app.conf

Nothing is written before every remote call succeeded. If a write fails, files
written so far are restored to their previous content.

Bootstraps for the same configuration and system name are serialized within the
process. Serialization across processes is up to the caller.
*/
package bootstrap
