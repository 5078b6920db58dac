//go:build searchdebug

package engine

func debugAssert(cond bool, msg string) {
	if !cond {
		panic("engine: " + msg)
	}
}
