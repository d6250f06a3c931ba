// Package server holds configuration for the HTTP front-end: the listen
// port, the optional API key, and the batched-lookup cap that the transport
// enforces on behalf of the index.
package server
