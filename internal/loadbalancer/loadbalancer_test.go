package loadbalancer_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

// blockingStrategy parks inside ChooseOne until released.
type blockingStrategy struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStrategy) ChooseOne() (string, error) {
	close(b.entered)
	<-b.release
	return "127.0.0.1:1", nil
}

func (b *blockingStrategy) Kind() strategy.Kind { return "blocking" }

func (b *blockingStrategy) Backends() []string { return []string{"127.0.0.1:1"} }

// countingStrategy records how many callers are inside ChooseOne at once.
type countingStrategy struct {
	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
}

func (c *countingStrategy) ChooseOne() (string, error) {
	n := c.active.Add(1)
	for {
		seen := c.maxActive.Load()
		if n <= seen || c.maxActive.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.active.Add(-1)
	c.calls.Add(1)
	return "127.0.0.1:1", nil
}

func (c *countingStrategy) Kind() strategy.Kind { return "counting" }

func (c *countingStrategy) Backends() []string { return []string{"127.0.0.1:1"} }

var _ = Describe("Registry", func() {
	var (
		registry *loadbalancer.Registry
		apps     []loadbalancer.App
	)

	BeforeEach(func() {
		apps = []loadbalancer.App{
			{Name: "app-1", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9001", "127.0.0.1:9002"}},
			{Name: "app-2", Strategy: strategy.KindRandom, Backends: []string{"127.0.0.1:9101"}},
		}

		var err error
		registry, err = loadbalancer.NewRegistry(apps)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewRegistry", func() {
		It("should register every application", func() {
			Expect(registry.Apps()).To(Equal([]string{"app-1", "app-2"}))
		})

		It("should reject an application without backends", func() {
			_, err := loadbalancer.NewRegistry([]loadbalancer.App{
				{Name: "empty", Strategy: strategy.KindRandom},
			})
			Expect(err).To(MatchError(strategy.ErrEmptyBackendSet))
		})

		It("should reject an unknown strategy", func() {
			_, err := loadbalancer.NewRegistry([]loadbalancer.App{
				{Name: "app", Strategy: "round-robin", Backends: []string{"127.0.0.1:1"}},
			})
			Expect(err).To(MatchError(strategy.ErrUnknownStrategy))
		})

		It("should reject duplicate application names", func() {
			_, err := loadbalancer.NewRegistry(append(apps, apps[0]))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Choose", func() {
		It("should return a configured backend of the application", func() {
			for i := 0; i < 50; i++ {
				addr, err := registry.Choose("app-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(addr).To(BeElementOf("127.0.0.1:9001", "127.0.0.1:9002"))
			}
		})

		It("should fail for an unknown application", func() {
			_, err := registry.Choose("missing")
			Expect(err).To(MatchError(loadbalancer.ErrUnknownApp))
		})

		It("should be safe for concurrent use", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					addr, err := registry.Choose("app-2")
					Expect(err).NotTo(HaveOccurred())
					Expect(addr).To(Equal("127.0.0.1:9101"))
				}()
			}
			wg.Wait()
		})
	})

	Describe("LoadBalancer", func() {
		It("should not block selection for other applications", func() {
			blocking := &blockingStrategy{entered: make(chan struct{}), release: make(chan struct{})}
			slow := loadbalancer.NewLoadBalancer(blocking)
			fast := loadbalancer.NewLoadBalancer(strategy.NewRandomStrategy([]string{"127.0.0.1:2"}))

			go slow.ChooseOne()
			Eventually(blocking.entered).Should(BeClosed())

			done := make(chan string, 1)
			go func() {
				addr, _ := fast.ChooseOne()
				done <- addr
			}()
			Eventually(done).Should(Receive(Equal("127.0.0.1:2")))

			close(blocking.release)
		})

		It("should serialize selection within one application", func() {
			counting := &countingStrategy{}
			lb := loadbalancer.NewLoadBalancer(counting)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = lb.ChooseOne()
				}()
			}
			wg.Wait()

			Expect(counting.calls.Load()).To(Equal(int32(20)))
			Expect(counting.maxActive.Load()).To(Equal(int32(1)))
		})
	})
})
