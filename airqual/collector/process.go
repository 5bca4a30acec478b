package collector

import (
	"bufio"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const stopTimeout = 30 * time.Second

type process interface {
	Exited() bool
	Stop() error
}

// execProcess is a child whose combined output is forwarded to the debug log line by line.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(binary string, args ...string) (*execProcess, error) {
	cmd := exec.Command(binary, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture collector output")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", binary)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	logger := log.WithField("pid", cmd.Process.Pid)
	go func() {
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			logger.Debug(scanner.Text())
		}
		p.err = cmd.Wait()
		logger.Debugf("collector exited: %v", p.err)
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop asks the process to terminate and kills it if it has not exited within stopTimeout.
func (p *execProcess) Stop() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		// no interrupt on windows
		if err := p.cmd.Process.Kill(); err != nil {
			return errors.Wrap(err, "failed to kill collector")
		}
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopTimeout):
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return errors.Wrap(err, "failed to kill collector")
	}
	<-p.done
	return nil
}
