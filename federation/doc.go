// Package federation keeps directories on different nodes loosely
// consistent. Each node periodically pulls deltas from its peers and
// merges them through the directory's conflict rules; newer records win,
// local trust and ownership never travel. Peer lists ride along with
// each response, so the mesh grows transitively from a few seed URLs.
package federation
