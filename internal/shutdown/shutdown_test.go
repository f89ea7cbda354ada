package shutdown

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdown_BroadcastsGracefulAndCancelsContext(t *testing.T) {
	c := New(10 * time.Millisecond)
	sub := c.Subscribe()

	c.Shutdown()

	select {
	case sig := <-sub:
		require.Equal(t, Graceful, sig)
	default:
		t.Fatal("expected Graceful signal")
	}

	select {
	case <-c.Context().Done():
	default:
		t.Fatal("expected root context to be cancelled")
	}
}

func TestShutdown_EscalatesToForceWhenTaskOutlivesBudget(t *testing.T) {
	c := New(5 * time.Millisecond)
	taskCtx, taskCancel := context.WithCancel(context.Background())
	c.RegisterTask("slow-worker", taskCancel)

	c.Shutdown()

	select {
	case <-taskCtx.Done():
	default:
		t.Fatal("expected outstanding task to be cancelled after drain budget")
	}
}

func TestShutdown_NoEscalationWhenTaskUnregisteredInTime(t *testing.T) {
	c := New(20 * time.Millisecond)
	_, taskCancel := context.WithCancel(context.Background())
	c.RegisterTask("fast-worker", taskCancel)
	c.UnregisterTask("fast-worker")

	sub := c.Subscribe()
	c.Shutdown()

	sawForce := false
	for {
		select {
		case sig := <-sub:
			if sig == Force {
				sawForce = true
			}
			continue
		default:
		}
		break
	}
	require.False(t, sawForce, "no Force signal expected when no tasks/processes remain")
}

func TestShutdown_KillsOutstandingProcess(t *testing.T) {
	c := New(5 * time.Millisecond)
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	c.RegisterProcess("child", cmd)

	c.Shutdown()

	err := cmd.Wait()
	require.Error(t, err, "killed process should report a non-nil wait error")
}
