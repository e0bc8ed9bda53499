// Command corestress exercises the corethread engine: worker goroutines
// flood the core thread with command batches while paired textures get
// dirtied and synchronized every frame.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/corethread"
	"github.com/gogpu/corethread/object"
	"github.com/gogpu/corethread/render"
	"github.com/gogpu/corethread/taskpool"
)

func main() {
	var (
		producers = flag.Int("producers", 4, "worker goroutines producing commands")
		frames    = flag.Int("frames", 100, "sim frames to run")
		textures  = flag.Int("textures", 16, "paired textures to synchronize")
		perFrame  = flag.Int("commands", 64, "commands per producer per frame")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		corethread.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	pool := taskpool.New(0)
	defer pool.Close()

	ct := corethread.New(corethread.WithScheduler(pool))
	mgr := object.NewManager(ct)

	texs := make([]*render.Texture, *textures)
	for i := range texs {
		texs[i] = render.NewTexture(mgr, render.TextureDescriptor{
			Label:  "stress",
			Size:   gputypes.Extent3D{Width: 256, Height: 256, DepthOrArrayLayers: 1},
			Format: gputypes.TextureFormatRGBA8Unorm,
		})
	}

	var executed atomic.Int64
	pixels := make([]byte, 256*256*4)

	// Persistent worker producers, each owning one private queue for the
	// whole run.
	var frameWG sync.WaitGroup
	start := make([]chan struct{}, *producers)
	for p := range start {
		start[p] = make(chan struct{})
		go func(ch <-chan struct{}) {
			for range ch {
				for c := 0; c < *perFrame; c++ {
					ct.Queue(func() { executed.Add(1) }, 0)
				}
				frameWG.Done()
			}
		}(start[p])
	}

	for frame := 0; frame < *frames; frame++ {
		ct.Update()

		frameWG.Add(*producers)
		for _, ch := range start {
			ch <- struct{}{}
		}
		frameWG.Wait()

		// Sim-side mutations ride the per-frame diff batch.
		for _, t := range texs {
			t.SetPixels(pixels)
		}
		mgr.SyncFrame()

		ct.SubmitAll(frame == *frames-1)
	}

	for _, ch := range start {
		close(ch)
	}

	for _, t := range texs {
		t.Destroy()
	}
	mgr.SyncFrame() // final pass, picks up any snapshots still pending
	ct.Queue(func() {}, corethread.BlockUntilComplete)

	if err := mgr.Close(); err != nil {
		log.Fatalf("manager close: %v", err)
	}
	ct.Stop()

	want := int64(*producers) * int64(*frames) * int64(*perFrame)
	if got := executed.Load(); got != want {
		log.Fatalf("executed %d commands, want %d", got, want)
	}
	log.Printf("ok: %d commands, %d frames, %d textures", executed.Load(), *frames, *textures)
}
