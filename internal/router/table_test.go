package router_test

import (
	"slices"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/internal/router"
)

var _ = Describe("Table", func() {
	var (
		oldRoutes []router.Route
		newRoutes []router.Route
		table     *router.Table
	)

	BeforeEach(func() {
		oldRoutes = []router.Route{{App: "A", Prefix: "/v1"}, {App: "B", Prefix: "/v2"}}
		newRoutes = []router.Route{{App: "B", Prefix: "/v1"}, {App: "A", Prefix: "/v2"}, {App: "C", Prefix: "/v3"}}
		table = router.NewTable(oldRoutes)
	})

	Describe("NewTable", func() {
		It("should copy the given routes", func() {
			oldRoutes[0].Prefix = "/changed"
			Expect(table.Routes()[0].Prefix).To(Equal("/v1"))
		})
	})

	Describe("Resolve", func() {
		It("should resolve against the current routes", func() {
			app, ok := table.Resolve("/v2/users")
			Expect(ok).To(BeTrue())
			Expect(app).To(Equal("B"))
		})
	})

	Describe("Replace", func() {
		It("should make the new routes visible to later resolutions", func() {
			table.Replace(newRoutes)

			app, ok := table.Resolve("/v1/x")
			Expect(ok).To(BeTrue())
			Expect(app).To(Equal("B"))

			app, ok = table.Resolve("/v3")
			Expect(ok).To(BeTrue())
			Expect(app).To(Equal("C"))
		})
	})

	Describe("Register", func() {
		It("should append the route with the lowest priority", func() {
			table.Register(router.Route{App: "C", Prefix: "/v1/special"})

			app, _ := table.Resolve("/v1/special")
			Expect(app).To(Equal("A"))
			Expect(table.Routes()).To(HaveLen(3))
		})
	})

	Describe("Concurrent access", func() {
		It("should not block resolutions behind an in-flight read", func() {
			holding := make(chan struct{})
			release := make(chan struct{})
			defer close(release)

			go table.View(func([]router.Route) {
				close(holding)
				<-release
			})
			Eventually(holding).Should(BeClosed())

			resolved := make(chan string, 1)
			go func() {
				app, _ := table.Resolve("/v1/x")
				resolved <- app
			}()

			Eventually(resolved).Should(Receive(Equal("A")))
		})

		It("should complete an update only after in-flight reads finish", func() {
			holding := make(chan struct{})
			release := make(chan struct{})
			observed := make(chan []router.Route, 1)

			go func() {
				defer GinkgoRecover()
				table.View(func(routes []router.Route) {
					before := slices.Clone(routes)
					close(holding)
					<-release
					Expect(routes).To(Equal(before))
					observed <- before
				})
			}()
			Eventually(holding).Should(BeClosed())

			updated := make(chan struct{})
			go func() {
				table.Replace(newRoutes)
				close(updated)
			}()

			Consistently(updated, 200*time.Millisecond).ShouldNot(BeClosed())

			close(release)
			Eventually(updated).Should(BeClosed())
			Eventually(observed).Should(Receive(Equal(oldRoutes)))
			Expect(table.Routes()).To(Equal(newRoutes))
		})

		It("should never expose a partially applied update", func() {
			const readers = 20
			const rounds = 200

			var wg sync.WaitGroup
			stop := make(chan struct{})

			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					if i%2 == 0 {
						table.Replace(newRoutes)
					} else {
						table.Replace(oldRoutes)
					}
				}
				close(stop)
			}()

			torn := make(chan []router.Route, readers)
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						seen := table.Routes()
						if !slices.Equal(seen, oldRoutes) && !slices.Equal(seen, newRoutes) {
							torn <- seen
							return
						}
					}
				}()
			}

			wg.Wait()
			Expect(torn).NotTo(Receive())
		})
	})
})
