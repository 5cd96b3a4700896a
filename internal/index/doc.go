// Package index validates the container header and decodes the descriptor table.
//
// Header problems are fatal and returned from Load. Descriptor problems are
// recorded on the affected Entry so that one malformed record never hides the
// others.
package index
