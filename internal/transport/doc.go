// Package transport defines what every backend adapter consumes and
// produces: a Call, a Result, and a StatusError for non-2xx upstream
// replies. It also owns the ordered, case-insensitive Headers type and the
// list of headers the gateway never forwards.
//
// Adapters live in the rest, graphql and grpc subpackages. Each implements
// Transport and returns raw errors; classification into the gateway error
// taxonomy happens in the dispatcher.
package transport
