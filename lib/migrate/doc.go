// Package migrate versions persisted records and upgrades old ones. Every
// record written through the coordinator carries a reserved integer
// schema-version field; records read back at an older version are handed
// to the container's migration function exactly once before
// deserialization.
//
// The engine performs no multi-hop chaining: a migration function is
// called with the stored version and must return a record at the current
// version, stepping through intermediate shapes internally if it needs
// to. A record stored at a version newer than the container's current one
// is passed through unchanged; forward compatibility is the container
// author's responsibility.
package migrate
