// Persistence backends for the member tree.
//
// Every backend implements membertree.Store: an atomic snapshot of the whole member set plus
// a commit that only applies if the store revision has not moved since the snapshot. There
// are implementations using process memory, SQL through gorm (sqlite or postgres), pebble,
// and redis.
package memberstore
