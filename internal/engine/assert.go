//go:build !searchdebug

package engine

// debugAssert checks a search precondition. It compiles to nothing unless
// the searchdebug build tag is set.
func debugAssert(bool, string) {}
