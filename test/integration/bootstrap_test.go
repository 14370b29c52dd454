// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/grafthost/graft/internal/bootstrap"
	"github.com/grafthost/graft/internal/bus"
	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/hostsim"
	"github.com/grafthost/graft/internal/logging"
	"github.com/grafthost/graft/internal/persist"
	"github.com/grafthost/graft/internal/runtime"
	"github.com/grafthost/graft/internal/runtime/luahost"
)

// syncBuffer collects log output from concurrent goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type env struct {
	logs *syncBuffer
	root *extension.RootContext
	sim  *hostsim.Host
}

func newEnv(simOpts hostsim.Options) *env {
	logs := &syncBuffer{}
	logger := logging.Setup("graft-test", "dev", "text", logs)

	dataDir := GinkgoT().TempDir()
	extDir := GinkgoT().TempDir()

	return &env{
		logs: logs,
		root: &extension.RootContext{
			Logger:        logger,
			Broadcast:     bus.NewBroadcast(logger),
			Named:         bus.NewNamed(logger),
			Persist:       persist.NewRegistry(logger),
			DataDir:       dataDir,
			ExtensionsDir: extDir,
		},
		sim: hostsim.New(logger, simOpts),
	}
}

func (e *env) installExtension(name, manifest, script string) {
	dir := filepath.Join(e.root.ExtensionsDir, name)
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, extension.ManifestFile), []byte(manifest), 0o644)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o644)).To(Succeed())
}

func fastBootstrap() bootstrap.Options {
	return bootstrap.Options{
		PollInterval:       time.Millisecond,
		PollAttempts:       50,
		WorldReadyBudget:   time.Second,
		StabilizationDelay: 10 * time.Millisecond,
	}
}

var _ = Describe("Bootstrap sequence", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
	})

	Context("when the host never emits a diagnostic line", func() {
		It("times out without creating a continuation or resolving", func() {
			e := newEnv(hostsim.Options{})
			// The host is never started, so no diagnostic line appears.

			var resolves atomic.Int32
			resolve := func(context.Context, *extension.RootContext) error {
				resolves.Add(1)
				return nil
			}

			boot := bootstrap.New(e.root.Logger, e.sim.Hooks(), resolve, e.root, fastBootstrap())
			boot.Start(ctx)

			Eventually(func() string { return e.logs.String() }, 5*time.Second, 10*time.Millisecond).
				Should(ContainSubstring("host readiness signal never observed"))

			Expect(strings.Count(e.logs.String(), "host readiness signal never observed")).
				To(Equal(1), "exactly one timeout line")
			Expect(boot.Handoff.Entry()).To(BeNil())
			Expect(resolves.Load()).To(BeZero())
		})
	})

	Context("when the host boots normally", func() {
		It("hands off once, stabilizes and loads the extension runtime", func() {
			e := newEnv(hostsim.Options{
				TickRate:        time.Millisecond,
				BootDelay:       5 * time.Millisecond,
				WorldReadyDelay: 5 * time.Millisecond,
			})
			e.installExtension("journal",
				"name: journal\nversion: 1.0.0\ntype: lua\nlua:\n  entry: main.lua\n",
				`
					entries = graft.register_list("journal-entries")
					graft.subscribe("quest-started", function(quest)
						entries.append(quest)
						graft.publish("journal-updated", quest)
					end)
				`)

			mgr := runtime.NewManager(runtime.WithLuaHost(luahost.New(e.root)))
			DeferCleanup(func() { Expect(mgr.Close(context.Background())).To(Succeed()) })

			var resolves atomic.Int32
			resolve := func(ctx context.Context, root *extension.RootContext) error {
				resolves.Add(1)
				return mgr.Load(ctx, root)
			}

			boot := bootstrap.New(e.root.Logger, e.sim.Hooks(), resolve, e.root, fastBootstrap())
			boot.Start(ctx)

			hostDone := make(chan error, 1)
			go func() { hostDone <- e.sim.Run(ctx) }()
			DeferCleanup(func() {
				cancel()
				Eventually(hostDone).Should(Receive(BeNil()))
			})

			Eventually(boot.Ready, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
			Expect(resolves.Load()).To(Equal(int32(1)), "resolver invoked exactly once")
			Expect(mgr.List()).To(Equal([]string{"journal"}))

			// The loaded extension reacts to named-channel traffic.
			updated := make(chan string, 1)
			bus.Subscribe(e.root.Named, "journal-updated", func(p string) { updated <- p })
			e.root.Named.Publish("quest-started", "dragon-hunt")
			Eventually(updated).Should(Receive(Equal("dragon-hunt")))

			// And its persistent list survives a save/load round trip.
			store, err := hostsim.OpenStore(filepath.Join(e.root.DataDir, "saves.db"))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { Expect(store.Close()).To(Succeed()) })

			saveMgr := hostsim.NewSaveManager(e.root.Logger, e.root.Broadcast, store)
			e.root.Persist.AttachManager(saveMgr)
			Expect(saveMgr.Save("slot-1")).To(Succeed())

			tree, ok, err := store.Read("slot-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			count, found := tree.Group("journal-entries").Value("count")
			Expect(found).To(BeTrue())
			n, _ := count.Int()
			Expect(n).To(Equal(int64(1)))
		})
	})

	Context("when a named-channel publish carries the wrong payload type", func() {
		It("drops the publish without reaching handlers or panicking", func() {
			e := newEnv(hostsim.Options{})

			handled := 0
			bus.Subscribe(e.root.Named, "x", func(string) { handled++ })

			Expect(func() { e.root.Named.Publish("x", 42) }).NotTo(Panic())
			Expect(handled).To(BeZero())
			Expect(e.logs.String()).To(ContainSubstring("payload type mismatch"))

			// A correctly typed publish still goes through afterwards.
			e.root.Named.Publish("x", "ok")
			Expect(handled).To(Equal(1))
		})
	})
})
