package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pdes/comm"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/sim"
)

func newScheduler() *partition.Scheduler {
	topo := sim.NewTopology(1)
	Expect(topo.Assign(1, 0)).To(Succeed())
	topo.Freeze()

	registry := comm.NewRegistry()
	registry.Freeze()

	p := partition.NewPartition(0, topo, registry, sim.MaxTime, 16)
	s := partition.MakeBuilder().WithPartition(p).Build()
	s.RegisterHandler(0, sim.HandlerFunc(func(*sim.Event) error {
		return nil
	}))

	return s
}

func scheduleAt(s *partition.Scheduler, times ...sim.VTime) {
	for _, t := range times {
		evt := s.Partition().NewEvent()
		s.ScheduleLocal(1, evt, t)
	}
}

func get(server *httptest.Server, path string) (int, string) {
	rsp, err := http.Get(server.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	Expect(err).NotTo(HaveOccurred())

	return rsp.StatusCode, string(body)
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		s      *partition.Scheduler
		server *httptest.Server
	)

	BeforeEach(func() {
		m = NewMonitor()
		s = newScheduler()
		m.RegisterScheduler(s)
		server = httptest.NewServer(m.Router())
	})

	AfterEach(func() {
		server.Close()
	})

	It("should list the partitions", func() {
		code, body := get(server, "/api/list_partitions")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`[0]`))
	})

	It("should report the time of every partition", func() {
		scheduleAt(s, 10, 20)
		Expect(s.Run()).To(Succeed())

		code, body := get(server, "/api/now")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"now":20,"partitions":[20]}`))
	})

	It("should report partition snapshots", func() {
		scheduleAt(s, 10)
		Expect(s.Run()).To(Succeed())

		code, body := get(server, "/api/partitions")
		Expect(code).To(Equal(http.StatusOK))

		var snapshots []PartitionSnapshot
		Expect(json.Unmarshal([]byte(body), &snapshots)).To(Succeed())
		Expect(snapshots).To(HaveLen(1))
		Expect(snapshots[0].State).To(Equal("stopped"))
		Expect(snapshots[0].Clock.Now).To(Equal(sim.VTime(10)))
		Expect(snapshots[0].Stats.Dispatched).To(Equal(uint64(1)))
	})

	It("should serialize the details of a partition", func() {
		code, body := get(server, "/api/partition/0")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).NotTo(BeEmpty())
	})

	It("should reject unknown partitions", func() {
		code, _ := get(server, "/api/partition/7")
		Expect(code).To(Equal(http.StatusNotFound))

		code, _ = get(server, "/api/partition/abc")
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("should pause and continue the partitions", func() {
		code, _ := get(server, "/api/pause")
		Expect(code).To(Equal(http.StatusOK))
		Expect(s.Paused()).To(BeTrue())

		code, _ = get(server, "/api/continue")
		Expect(code).To(Equal(http.StatusOK))
		Expect(s.Paused()).To(BeFalse())
	})

	It("should request the end of the simulation", func() {
		code, body := get(server, "/api/end?at=500")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"at":500}`))

		scheduleAt(s, 10, 900)
		Expect(s.Run()).To(Succeed())

		Expect(s.Partition().Clock.MaxSimClock()).To(Equal(sim.VTime(500)))
		Expect(s.CurrentTime()).To(BeNumerically("<=", 500))
	})

	It("should end as soon as possible without a time", func() {
		_, body := get(server, "/api/end")
		Expect(body).To(MatchJSON(`{"at":1}`))
	})

	It("should reject a malformed end time", func() {
		code, _ := get(server, "/api/end?at=soon")
		Expect(code).To(Equal(http.StatusBadRequest))

		code, _ = get(server, "/api/end?at=-4")
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("should expose the dispatch counters", func() {
		scheduleAt(s, 10, 20)
		Expect(s.Run()).To(Succeed())

		code, body := get(server, "/metrics")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(
			`pdes_events_dispatched_total{partition="0"} 2`))
	})

	It("should track the simulated time", func() {
		m.TrackSimulatedTime(1000)
		scheduleAt(s, 250)
		Expect(s.Run()).To(Succeed())

		_, body := get(server, "/api/progress")

		var bars []ProgressBar
		Expect(json.Unmarshal([]byte(body), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Total).To(Equal(uint64(1000)))
		Expect(bars[0].Finished).To(Equal(uint64(250)))
	})

	It("should remove completed progress bars", func() {
		bar := m.CreateProgressBar("work", 10)
		bar.IncrementInProgress(4)
		bar.MoveInProgressToFinished(3)
		Expect(bar.InProgress).To(Equal(uint64(1)))
		Expect(bar.Finished).To(Equal(uint64(3)))

		m.CompleteProgressBar(bar)

		_, body := get(server, "/api/progress")
		Expect(body).To(MatchJSON(`[]`))
	})

	It("should serve the dashboard", func() {
		code, body := get(server, "/")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(HavePrefix("<!DOCTYPE html>"))
	})

	Context("stream", func() {
		var conn *websocket.Conn

		BeforeEach(func() {
			m.WithStreamInterval(10 * time.Millisecond)

			url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/stream"
			var err error
			conn, _, err = websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			conn.Close()
		})

		It("should push snapshots", func() {
			var msg StreamMessage
			Expect(conn.ReadJSON(&msg)).To(Succeed())
			Expect(msg.Type).To(Equal("snapshot"))
			Expect(msg.Partitions).To(HaveLen(1))
			Expect(msg.Partitions[0].State).To(Equal("init"))
		})

		It("should accept commands", func() {
			Expect(conn.WriteJSON(StreamCommand{Type: "pause"})).To(Succeed())
			Eventually(s.Paused).Should(BeTrue())

			Expect(conn.WriteJSON(StreamCommand{Type: "continue"})).To(Succeed())
			Eventually(s.Paused).Should(BeFalse())
		})

		It("should report unknown commands", func() {
			Expect(conn.WriteJSON(StreamCommand{Type: "jump"})).To(Succeed())

			Eventually(func() string {
				var msg StreamMessage
				Expect(conn.ReadJSON(&msg)).To(Succeed())
				return msg.Error
			}).Should(Equal("unknown command jump"))
		})
	})
})
