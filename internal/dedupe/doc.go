// Package dedupe provides a time-bounded cache of recently seen message IDs,
// used to merge locally-echoed messages with their server-delivered copies.
package dedupe
