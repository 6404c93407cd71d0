package lifecycle

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/logger"
)

var lifecycleLog = logger.Component("lifecycle")

// ErrPortOccupied is returned by EnsurePortAvailable when another process
// holds the port and --restart was not requested; main exits 1 on it.
var ErrPortOccupied = errors.New("port occupied and --restart not requested")

// ErrNeverSelf is returned by any attempt to signal this process's own PID.
var ErrNeverSelf = errors.New("refusing to signal own pid")

// PortBusy reports whether something accepts connections on the port.
func PortBusy(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// EnsurePortAvailable is the start guard: a free port passes; a busy port
// passes only when restart is requested AND the holder can be stopped
// through the managed escalation ladder. An unmanaged holder is never
// killed.
func EnsurePortAvailable(reg *Registry, port int, restart bool) error {
	if !PortBusy(port) {
		lifecycleLog.Debug("port check", zap.Int("port", port), zap.String("port_check_result", "free"))
		return nil
	}

	if !restart {
		lifecycleLog.Error("port check", zap.Int("port", port), zap.String("port_check_result", "occupied_no_restart"))
		return ErrPortOccupied
	}

	managed, err := reg.ManagedFor(port)
	if err != nil {
		return err
	}
	if len(managed) == 0 {
		lifecycleLog.Error("port check", zap.Int("port", port), zap.String("port_check_result", "occupied_unmanaged"))
		return errors.New("port held by an unmanaged process; refusing to kill it")
	}

	if config.BuildRestartOnly {
		return signalInPlaceRestart(managed)
	}
	return stopManaged(reg, port, managed)
}

// signalInPlaceRestart sends SIGUSR2 to the managed holders so they
// re-exec in place; no replacement process is spawned.
func signalInPlaceRestart(managed []ManagedProcess) error {
	for _, p := range managed {
		if err := signalPID(p.PID, syscall.SIGUSR2); err != nil {
			return err
		}
		lifecycleLog.Info("sent in-place restart signal", zap.Int("pid", p.PID))
	}
	return nil
}

// stopManaged walks the escalation ladder: HTTP /shutdown, wait for the
// port to free, then SIGTERM, then SIGKILL, each bounded by the
// configured pacing.
func stopManaged(reg *Registry, port int, managed []ManagedProcess) error {
	requestShutdown(port)

	stopDeadline := time.Duration(config.StopTimeoutMS) * time.Millisecond
	if waitPortFree(port, stopDeadline) {
		return forgetAll(reg, managed)
	}

	for _, p := range managed {
		if err := signalPID(p.PID, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			lifecycleLog.Warn("sigterm failed", zap.Int("pid", p.PID), zap.Error(err))
		}
	}
	killDeadline := time.Duration(config.KillTimeoutMS) * time.Millisecond
	if waitPortFree(port, killDeadline) {
		return forgetAll(reg, managed)
	}

	for _, p := range managed {
		if err := signalPID(p.PID, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			lifecycleLog.Warn("sigkill failed", zap.Int("pid", p.PID), zap.Error(err))
		} else {
			lifecycleLog.Info("killed managed process", zap.Int("pid", p.PID))
		}
	}
	if waitPortFree(port, killDeadline) {
		return forgetAll(reg, managed)
	}
	return errors.Errorf("port %d still busy after kill escalation", port)
}

func forgetAll(reg *Registry, managed []ManagedProcess) error {
	for _, p := range managed {
		if err := reg.Remove(p.PID); err != nil {
			return err
		}
	}
	return nil
}

// requestShutdown asks the holder to stop gracefully over its own HTTP
// surface, carrying the stop-caller audit headers.
func requestShutdown(port int) {
	url := fmt.Sprintf("http://127.0.0.1:%d/shutdown", port)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("x-routecodex-stop-caller-name", "routecodex-restart")
	req.Header.Set("x-routecodex-stop-caller-pid", strconv.Itoa(os.Getpid()))

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		lifecycleLog.Debug("http shutdown request failed", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}

func waitPortFree(port int, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if !PortBusy(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !PortBusy(port)
}

// signalPID delivers sig to pid, refusing this process's own PID
// unconditionally.
func signalPID(pid int, sig syscall.Signal) error {
	if pid == os.Getpid() {
		return ErrNeverSelf
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(err, "find process %d", pid)
	}
	return proc.Signal(sig)
}
