// Package render turns raw upstream notifications into Discord-ready
// embeds. Each supported notification type has one renderer that parses
// the YAML payload, resolves names through the metadata lookup, and
// emits a Message carrying the embed plus the routing keys the fanout
// filters on.
package render
