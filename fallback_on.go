//go:build arenaheap

package dumparena

const defaultHeapFallback = true
