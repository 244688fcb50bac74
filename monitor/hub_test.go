package monitor_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/monitor"
)

func TestHubBroadcastsRoundReports(t *testing.T) {
	hub := monitor.NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give ServeHTTP's read goroutine a moment to register the client
	// before the observer fires.
	time.Sleep(10 * time.Millisecond)

	hub.ObserveRound(distexec.RoundReport{
		Rank: 2, TotRx: 1, TotTx: 1, SmallestTime: 100,
		GlobalFinished: true, Duration: 5 * time.Millisecond,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got struct {
		Type           string `json:"type"`
		Rank           uint32 `json:"rank"`
		GlobalFinished bool   `json:"global_finished"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "round", got.Type)
	require.EqualValues(t, 2, got.Rank)
	require.True(t, got.GlobalFinished)
}

func TestHubDropsClientOnWriteFailure(t *testing.T) {
	hub := monitor.NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	conn.Close()
	time.Sleep(10 * time.Millisecond)

	// Broadcasting after the only client closed must not panic or block.
	hub.ObserveRound(distexec.RoundReport{Rank: 0})
}
