// Package shutdown coordinates phased process teardown. The daemon
// registers its listener and service stops in separate phases so the
// node stops answering peers before its backends close underneath it.
package shutdown
