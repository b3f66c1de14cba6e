package main

import (
	"flag"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavanmanishd/dumparena/codemem"
	"github.com/pavanmanishd/dumparena/heap"
)

func TestWorkerPass(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"-dump-arena.canaries=true", "-heap.poison=true"},
		{"-dump-arena.heap-fallback=true"},
		{"-dump-arena.block-size=1024", "-dump-arena.growth-unit=1024"},
	} {
		var cfg config
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		cfg.registerFlags(fs)
		require.NoError(t, fs.Parse(args))
		require.NoError(t, cfg.validate())
		cfg.Passes = 20

		h := heap.NewChecked(cfg.Heap, heap.NewCachingAllocator(heap.GoAllocator{}, 0, 0), nil, nil)
		w := worker{
			arena: cfg.Arena.New(h),
			code:  codemem.NewPool(cfg.CodeMem, h, nil),
			cfg:   &cfg,
			rnd:   rand.New(rand.NewSource(1)),
		}
		for p := 0; p < cfg.Passes; p++ {
			require.NoError(t, w.pass(cfg.Depth), "args %v", args)
		}
		require.Equal(t, 0, w.arena.Size())
	}
}

func TestConfigValidate(t *testing.T) {
	var cfg config
	cfg.registerFlags(flag.NewFlagSet("test", flag.ContinueOnError))
	require.NoError(t, cfg.validate())

	cfg.Workers = 0
	require.Error(t, cfg.validate())

	cfg.Workers = 1
	cfg.Arena.BlockSize = 0
	require.ErrorContains(t, cfg.validate(), "invalid arena config")
}
