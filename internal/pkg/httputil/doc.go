// Package httputil provides shared HTTP response helpers for handlers.
//
// Handlers use these instead of writing raw http.ResponseWriter calls so
// JSON formatting and error envelopes stay consistent across endpoints.
package httputil
