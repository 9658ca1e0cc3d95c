package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/notify"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/test/util"
)

// TestNotifierAgainstBroker publishes a cancellation and an abort through a
// real broker and waits for the executing system to acknowledge both.
func TestNotifierAgainstBroker(t *testing.T) {
	broker := util.StartMosquitto(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exec := util.NewExecutor(t, broker, "obsched", "obsched-acks")

	n, err := NewNotifier(Config{Broker: broker, ClientID: "scheduler", AckTopic: "obsched-acks", AckTimeoutMS: 5000,
		QoS: map[string]byte{"ack": 1, "cancel": 1, "abort": 1}})
	require.NoError(t, err)
	defer n.Disconnect()

	w := notify.CancellationWindow{Resource: "tel", Windows: interval.MustSet(interval.Range{Start: 100, End: 200})}
	require.NoError(t, n.Cancel(ctx, w))
	cmd, err := exec.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "obsched/cancel/tel", cmd.Topic)
	var got cancelCommand
	require.NoError(t, json.Unmarshal(cmd.Payload, &got))
	var windows interval.Set
	require.NoError(t, json.Unmarshal(got.Windows, &windows))
	assert.True(t, windows.Equal(w.Windows))

	abort := preemption.Abort{Group: "survey", Running: preemption.RunningRequest{ID: "r1", Resource: "tel", Start: 0, End: 500}, Reason: "rapid response"}
	require.NoError(t, n.Abort(ctx, abort))
	cmd, err = exec.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "obsched/abort/tel", cmd.Topic)
	assert.Len(t, exec.Commands(), 2)
}
