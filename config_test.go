package cachegate

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/testutil"
)

var _ = Describe("Config", func() {
	It("round-trips WriteDefaultConfig through NewConfigLoader", func() {
		path := testutil.TmpFileName() + ".yaml"
		defer os.Remove(path)

		Expect(WriteDefaultConfig(path)).To(Succeed())

		_, cfg, err := NewConfigLoader(path, log.NewLogger(log.ErrorLevel, os.Stderr))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(DefaultConfig()))
	})

	It("lets an override in the file win over the default", func() {
		path := testutil.TmpFileName() + ".yaml"
		defer os.Remove(path)

		Expect(os.WriteFile(path, []byte("client-port: 7000\n"), 0644)).To(Succeed())

		_, cfg, err := NewConfigLoader(path, log.NewLogger(log.ErrorLevel, os.Stderr))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ClientPort).To(Equal(7000))
		Expect(cfg.AdminPort).To(Equal(DefaultConfig().AdminPort))
	})

	It("computes CeilingBytes and a fallback SweepIntervalDuration", func() {
		cfg := DefaultConfig()
		Expect(cfg.CeilingBytes()).To(BeEquivalentTo(64 << 20))

		cfg.SweepInterval = "not-a-duration"
		Expect(cfg.SweepIntervalDuration().Seconds()).To(Equal(6.0))
	})
})
