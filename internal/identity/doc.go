// Package identity reconciles the two keys a player is known by.
//
// A player has a stable identity (the platform-issued ID, immutable) and a
// display identity (the player name, mutable). Players seen before their
// stable ID is known are stored under a placeholder: the display name is used
// in place of the stable ID. While the placeholder is in use the identity is
// "fix pending" and every storage lookup must match on the display name.
//
// Display names compare case-insensitively; Normalize is the single place
// that decides what "the same name" means.
package identity
