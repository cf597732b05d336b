package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sarchlab/pdes/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// A StreamCommand is sent by stream clients to control the simulation.
// Type is one of "pause", "continue", and "end". At is only used by "end";
// leaving it out ends the simulation as soon as possible.
type StreamCommand struct {
	Type string    `json:"type"`
	At   sim.VTime `json:"at,omitempty"`
}

// A StreamMessage is pushed to stream clients.
type StreamMessage struct {
	Type       string              `json:"type"`
	WallTime   time.Time           `json:"wall_time"`
	Now        sim.VTime           `json:"now"`
	Partitions []PartitionSnapshot `json:"partitions,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// streamConn serializes the writes to a websocket connection.
type streamConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (c *streamConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (m *Monitor) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("cannot upgrade stream connection")
		return
	}
	defer conn.Close()

	sc := &streamConn{Conn: conn}
	done := make(chan struct{})

	go m.readCommands(sc, done)

	ticker := time.NewTicker(m.streamInterval)
	defer ticker.Stop()

	for {
		err := sc.WriteJSON(m.snapshotMessage())
		if err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) snapshotMessage() StreamMessage {
	return StreamMessage{
		Type:       "snapshot",
		WallTime:   time.Now(),
		Now:        m.minNow(),
		Partitions: m.Snapshot(),
	}
}

func (m *Monitor) readCommands(sc *streamConn, done chan<- struct{}) {
	defer close(done)

	for {
		var cmd StreamCommand
		err := sc.ReadJSON(&cmd)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.WithError(err).Debug("stream client gone")
			}
			return
		}

		switch cmd.Type {
		case "pause":
			m.pauseAll()
		case "continue":
			m.continueAll()
		case "end":
			at := cmd.At
			if at == 0 {
				at = -1
			}
			m.requestEnd(at)
		default:
			err = sc.WriteJSON(StreamMessage{
				Type:     "error",
				WallTime: time.Now(),
				Error:    "unknown command " + cmd.Type,
			})
			if err != nil {
				return
			}
			continue
		}

		err = sc.WriteJSON(m.snapshotMessage())
		if err != nil {
			return
		}
	}
}
