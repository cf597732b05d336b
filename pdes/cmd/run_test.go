package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/sim"
)

func execute(args ...string) (runReport, error) {
	cmd := newRunCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(GinkgoWriter)
	cmd.SetArgs(append(args, "--log-level", "warn"))

	err := cmd.ExecuteContext(context.Background())
	logrus.SetLevel(logrus.WarnLevel)

	var report runReport
	if err == nil {
		Expect(json.Unmarshal(out.Bytes(), &report)).To(Succeed())
	}

	return report, err
}

var _ = Describe("run", func() {
	It("should run the ping workload on several partitions", func() {
		report, err := execute("--partitions", "2", "--lookahead", "10",
			"--latency", "10", "--pings", "3", "--nodes", "2")
		Expect(err).NotTo(HaveOccurred())

		Expect(report.ID).NotTo(BeEmpty())
		Expect(report.Partitions).To(HaveLen(2))
		Expect(report.Ping.Agents).To(Equal(4))
		Expect(report.Ping.Completed).To(Equal(12))
		Expect(report.Ping.MinRTT).To(Equal(sim.VTime(22)))
		Expect(report.Ping.MaxRTT).To(Equal(sim.VTime(22)))
	})

	It("should let flags override the config file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "pdes.yaml")
		Expect(os.WriteFile(path,
			[]byte("partitions: 2\nlookahead: 10\nserialize: true\n"),
			0o600)).To(Succeed())

		report, err := execute("--config", path, "--partitions", "3",
			"--latency", "10", "--pings", "2")
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Partitions).To(HaveLen(3))
		Expect(report.Ping.Completed).To(Equal(6))
	})

	It("should stop at the end time", func() {
		report, err := execute("--end", "150", "--latency", "10",
			"--pings", "10")
		Expect(err).NotTo(HaveOccurred())

		Expect(report.Ping.Completed).To(BeNumerically(">", 0))
		Expect(report.Ping.Completed).To(BeNumerically("<", 10))
	})

	It("should refuse a latency below the lookahead", func() {
		_, err := execute("--partitions", "2", "--lookahead", "100",
			"--latency", "10")
		Expect(err).To(MatchError(ContainSubstring("below the lookahead")))
	})

	It("should refuse an invalid config", func() {
		_, err := execute("--trace", "kafka")
		Expect(err).To(MatchError(ContainSubstring("backend")))
	})

	It("should write a CSV trace", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")

		_, err := execute("--trace", "csv", "--trace-path", path,
			"--latency", "10", "--pings", "1")
		Expect(err).NotTo(HaveOccurred())

		content, err := os.ReadFile(path + ".csv")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("dispatch"))
	})
})

var _ = Describe("loadEnv", func() {
	It("should ignore a missing file", func() {
		Expect(loadEnv(filepath.Join(GinkgoT().TempDir(), ".env"))).
			To(Succeed())
		Expect(loadEnv("")).To(Succeed())
	})

	It("should load the variables of the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), ".env")
		Expect(os.WriteFile(path, []byte("PDES_TEST_VALUE=42\n"), 0o600)).
			To(Succeed())
		DeferCleanup(os.Unsetenv, "PDES_TEST_VALUE")

		Expect(loadEnv(path)).To(Succeed())
		Expect(os.Getenv("PDES_TEST_VALUE")).To(Equal("42"))
	})
})
