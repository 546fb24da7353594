// Package oauth implements the client side of OAuth 2.1 Authorization Code
// with PKCE for remote MCP servers: metadata discovery, dynamic client
// registration, the browser authorization flow, code exchange, and refresh.
//
// Protocol operations live on Client. Persistence of the registration, the
// token set, and the in-flight code verifier lives on Provider, which is
// backed by the fingerprint-scoped credential store so that concurrent
// bridge processes targeting the same server share one set of credentials.
package oauth
