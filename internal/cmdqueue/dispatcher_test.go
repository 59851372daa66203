package cmdqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrv/easytouch/internal/cmdqueue"
	"github.com/openrv/easytouch/internal/protocol"
)

// writeRecorder is a WriteFunc that captures every write.
type writeRecorder struct {
	mu     sync.Mutex
	writes [][]byte
	err    error // returned for every write when set
}

func (w *writeRecorder) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, append([]byte(nil), data...))
	return nil
}

func (w *writeRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *writeRecorder) at(i int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[i]
}

func testConfig() cmdqueue.Config {
	return cmdqueue.Config{
		CommandTimeout: 250 * time.Millisecond,
		MaxAttempts:    3,
		WriteGap:       time.Millisecond,
	}
}

// startDispatcher runs d until the test ends.
func startDispatcher(t *testing.T, d *cmdqueue.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitWrites(t *testing.T, w *writeRecorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return w.count() >= n },
		2*time.Second, 5*time.Millisecond, "expected %d writes", n)
}

func mustEncode(t *testing.T, cmd *protocol.Command) []byte {
	t.Helper()
	data, err := protocol.Encode(cmd)
	require.NoError(t, err)
	return data
}

func TestDispatchAndAck(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	done := d.Submit(&protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeCool})
	waitWrites(t, w, 1)
	assert.NotZero(t, d.InflightID())

	d.Acknowledge()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("command never completed")
	}
	assert.Zero(t, d.InflightID())
}

func TestFIFOOrdering(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)

	// Enqueue while no session is active; nothing may be written yet.
	cmds := []*protocol.Command{
		{Kind: protocol.CmdSetMode, Mode: protocol.ModeHeat},
		{Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointHeat, Value: 68},
		{Kind: protocol.CmdSetFanMode, Fan: protocol.FanLow},
	}
	var results []<-chan error
	for _, cmd := range cmds {
		results = append(results, d.Submit(cmd))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, w.count(), "no writes before a session is active")
	assert.Equal(t, 3, d.QueueLen())

	d.SessionActive(w.write)
	for i, cmd := range cmds {
		waitWrites(t, w, i+1)
		assert.Equal(t, mustEncode(t, cmd), w.at(i), "write %d out of order", i)
		d.Acknowledge()
		require.NoError(t, <-results[i])
	}
}

func TestRebootJumpsQueue(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)

	setpoint := &protocol.Command{Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointCool, Value: 74}
	reboot := &protocol.Command{Kind: protocol.CmdReboot}
	spDone := d.Submit(setpoint)
	rbDone := d.Submit(reboot)

	d.SessionActive(w.write)
	waitWrites(t, w, 1)
	assert.Equal(t, mustEncode(t, reboot), w.at(0), "reboot must go out first")

	d.Acknowledge()
	require.NoError(t, <-rbDone)

	waitWrites(t, w, 2)
	assert.Equal(t, mustEncode(t, setpoint), w.at(1))
	d.Acknowledge()
	require.NoError(t, <-spDone)
}

func TestAtMostOneInFlight(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	d.Submit(&protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeCool})
	d.Submit(&protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeHeat})

	waitWrites(t, w, 1)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, w.count(), "second command must wait for the first ack")

	d.Acknowledge()
	waitWrites(t, w, 2)
}

func TestTimeoutRetriesThenFails(t *testing.T) {
	w := &writeRecorder{}
	cfg := testConfig()
	cfg.CommandTimeout = 40 * time.Millisecond
	cfg.MaxAttempts = 2
	d := cmdqueue.NewDispatcher(cfg, nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	done := d.Submit(&protocol.Command{Kind: protocol.CmdSetFanMode, Fan: protocol.FanHigh})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, cmdqueue.ErrCommandTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("command never failed")
	}
	assert.Equal(t, 2, w.count(), "one send per attempt")
}

func TestRetriedWritesAreIdentical(t *testing.T) {
	w := &writeRecorder{}
	cfg := testConfig()
	cfg.CommandTimeout = 40 * time.Millisecond
	cfg.MaxAttempts = 3
	d := cmdqueue.NewDispatcher(cfg, nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	done := d.Submit(&protocol.Command{Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointHeat, Value: 70})
	<-done

	require.Equal(t, 3, w.count())
	assert.Equal(t, w.at(0), w.at(1))
	assert.Equal(t, w.at(1), w.at(2))
}

func TestRequeueAcrossSessions(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	first := &protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeAuto}
	firstDone := d.Submit(first)
	waitWrites(t, w, 1)

	// Link drops with the command unacknowledged.
	d.SessionDown()
	select {
	case err := <-firstDone:
		t.Fatalf("command must survive the disconnect, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// A command submitted during the outage queues behind the survivor.
	second := &protocol.Command{Kind: protocol.CmdSetFanMode, Fan: protocol.FanAuto}
	secondDone := d.Submit(second)

	d.SessionActive(w.write)
	waitWrites(t, w, 2)
	assert.Equal(t, mustEncode(t, first), w.at(1), "requeued command goes out first")
	d.Acknowledge()
	require.NoError(t, <-firstDone)

	waitWrites(t, w, 3)
	assert.Equal(t, mustEncode(t, second), w.at(2))
	d.Acknowledge()
	require.NoError(t, <-secondDone)
}

func TestRebootCompletesOnDisconnect(t *testing.T) {
	w := &writeRecorder{}
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)
	d.SessionActive(w.write)

	done := d.Submit(&protocol.Command{Kind: protocol.CmdReboot})
	waitWrites(t, w, 1)

	// The reboot's expected effect is the disconnect itself.
	d.SessionDown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reboot not completed by the disconnect")
	}
}

func TestQueuedRebootDroppedOnDisconnect(t *testing.T) {
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)

	// Never active: the reboot sits in the queue when the session goes down.
	done := d.Submit(&protocol.Command{Kind: protocol.CmdReboot})
	d.SessionDown()

	select {
	case err := <-done:
		assert.NoError(t, err, "queued reboots are discarded as no-ops")
	case <-time.After(2 * time.Second):
		t.Fatal("queued reboot not resolved")
	}
	assert.Zero(t, d.QueueLen())
}

func TestInvalidCommandRejectedAtSubmit(t *testing.T) {
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	// No Run, no session: validation happens before the queue.
	done := d.Submit(&protocol.Command{Kind: protocol.CmdSetSetpoint, Setpoint: protocol.SetpointHeat, Value: 10})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, protocol.ErrOutOfRange)
	default:
		t.Fatal("invalid command must fail immediately")
	}
	assert.Zero(t, d.QueueLen())
}

func TestShutdownFailsPending(t *testing.T) {
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx)
	}()

	done := d.Submit(&protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeCool})
	cancel()
	<-stopped

	select {
	case err := <-done:
		assert.ErrorIs(t, err, cmdqueue.ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command not failed on shutdown")
	}
}

func TestSubmitWaitHonorsContext(t *testing.T) {
	d := cmdqueue.NewDispatcher(testConfig(), nil, nil)
	startDispatcher(t, d)
	// No session: the command waits in the queue until the context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := d.SubmitWait(ctx, &protocol.Command{Kind: protocol.CmdSetMode, Mode: protocol.ModeCool})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
