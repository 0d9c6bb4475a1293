package state_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/config"
	"github.com/angeloszaimis/path-proxy/internal/healthcheck"
	"github.com/angeloszaimis/path-proxy/internal/router"
	"github.com/angeloszaimis/path-proxy/internal/state"
	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

var _ = Describe("State", func() {
	var apps []state.App

	BeforeEach(func() {
		apps = []state.App{
			{Name: "a", Prefix: "/v1", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9001"}},
			{Name: "b", Prefix: "/v2", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9002", "127.0.0.1:9003"}},
		}
	})

	Describe("New", func() {
		It("builds the routing table in registration order", func() {
			s, err := state.New(apps)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Routes.Routes()).To(Equal([]router.Route{
				{App: "a", Prefix: "/v1"},
				{App: "b", Prefix: "/v2"},
			}))
			Expect(s.Balancers.Apps()).To(Equal([]string{"a", "b"}))
		})

		It("rejects an application without backends", func() {
			apps[1].Backends = nil

			_, err := state.New(apps)
			Expect(errors.Is(err, strategy.ErrEmptyBackendSet)).To(BeTrue())
		})

		It("lists every backend as a health check target", func() {
			s, err := state.New(apps)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Targets()).To(ConsistOf(
				healthcheck.Target{App: "a", Backend: "127.0.0.1:9001"},
				healthcheck.Target{App: "b", Backend: "127.0.0.1:9002"},
				healthcheck.Target{App: "b", Backend: "127.0.0.1:9003"},
			))
		})
	})

	Describe("ApplyRoutes", func() {
		var s *state.State

		BeforeEach(func() {
			var err error
			s, err = state.New(apps)
			Expect(err).NotTo(HaveOccurred())
		})

		It("replaces prefixes and order", func() {
			updated := []state.App{apps[1], apps[0]}
			updated[0].Prefix = "/v1/special"

			Expect(s.ApplyRoutes(updated)).To(Succeed())

			app, ok := s.Routes.Resolve("/v1/special/x")
			Expect(ok).To(BeTrue())
			Expect(app).To(Equal("b"))
		})

		It("rejects a changed application set", func() {
			err := s.ApplyRoutes(apps[:1])
			Expect(errors.Is(err, state.ErrRegistryChanged)).To(BeTrue())

			app, _ := s.Routes.Resolve("/v2")
			Expect(app).To(Equal("b"))
		})

		It("rejects a renamed application", func() {
			apps[0].Name = "c"
			Expect(errors.Is(s.ApplyRoutes(apps), state.ErrRegistryChanged)).To(BeTrue())
		})

		It("rejects changed backends", func() {
			apps[1].Backends = []string{"127.0.0.1:9002"}
			Expect(errors.Is(s.ApplyRoutes(apps), state.ErrRegistryChanged)).To(BeTrue())
		})
	})

	Describe("AppsFromConfig", func() {
		It("preserves declaration order and parses strategies", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte(`
server: {listen_addr: "127.0.0.1", listen_port: 8080}
apps:
  second:
    path: /x/y
    backends: ["127.0.0.1:9001"]
    lb: RANDOM
  first:
    path: /x
    backends: ["127.0.0.1:9002"]
    lb: random
`), 0644)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())

			got, err := state.AppsFromConfig(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]state.App{
				{Name: "second", Prefix: "/x/y", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9001"}},
				{Name: "first", Prefix: "/x", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9002"}},
			}))
		})
	})
})
