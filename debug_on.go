//go:build arenadebug

package dumparena

const defaultCanaries = true
