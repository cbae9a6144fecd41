// Package membertree implements binary-tree membership placement for a referral network.
//
// Every member sits in one slot (left or right) of a structural parent. A new member is
// attached under its sponsor when the requested slot is free, and otherwise "spills" to the
// shallowest, left-most free slot in the sponsor's subtree. Each node keeps the size of its
// left and right subtrees, which are updated along the path to the root on every placement.
//
// The Engine works against a Store, which supplies atomic snapshots and revision-checked
// commits of the whole member set. Implementations live in the memberstore package.
package membertree
