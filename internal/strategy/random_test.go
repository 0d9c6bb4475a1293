package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

var _ = Describe("Random", func() {
	backends := []string{"127.0.0.1:9001", "127.0.0.1:9002"}

	It("should distribute selections uniformly", func() {
		const calls = 10000
		strat := strategy.NewRandomStrategy(backends)

		counts := make(map[string]int)
		for i := 0; i < calls; i++ {
			addr, err := strat.ChooseOne()
			Expect(err).NotTo(HaveOccurred())
			Expect(backends).To(ContainElement(addr))
			counts[addr]++
		}

		// 6 standard deviations around 5000 for p = 0.5.
		Expect(counts).To(HaveLen(2))
		Expect(counts["127.0.0.1:9001"]).To(BeNumerically("~", calls/2, 300))
		Expect(counts["127.0.0.1:9002"]).To(BeNumerically("~", calls/2, 300))
	})

	It("should always return the only backend of a singleton set", func() {
		strat := strategy.NewRandomStrategy([]string{"10.0.0.7:80"})
		for i := 0; i < 100; i++ {
			Expect(strat.ChooseOne()).To(Equal("10.0.0.7:80"))
		}
	})

	It("should fail loudly on an empty set instead of returning an address", func() {
		strat := strategy.NewRandomStrategy(nil)
		addr, err := strat.ChooseOne()
		Expect(err).To(MatchError(strategy.ErrEmptyBackendSet))
		Expect(addr).To(BeEmpty())
	})
})
