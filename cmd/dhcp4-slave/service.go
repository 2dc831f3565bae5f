package main

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/kardianos/service"

	"github.com/zdnscloud/dhcp4-slave/internal/config"
)

// Service metadata, grounded on the teacher's own
// internal/home/service.go constants.
const (
	serviceName        = "dhcp4-slave"
	serviceDisplayName = "DHCPv4 slave packet-processing server"
	serviceDescription = "Classifies, allocates, and responds to DHCPv4 requests against a remote allocation master."
)

// program implements [service.Interface] so this binary can install and
// run itself as a platform service, matching the teacher's own
// program type in internal/home/service.go.
type program struct {
	ctx        context.Context
	logger     *slog.Logger
	configPath string

	cancel context.CancelFunc
	done   chan struct{}
}

// type check
var _ service.Interface = (*program)(nil)

// Start implements the [service.Interface] interface for *program.
// Start must not block, so the actual work runs in a goroutine.
func (p *program) Start(_ service.Service) (err error) {
	runCtx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer slogutil.RecoverAndLog(runCtx, p.logger)

		f, loadErr := config.Load(p.configPath)
		if loadErr != nil {
			p.logger.ErrorContext(runCtx, "loading config", slogutil.KeyError, loadErr)

			return
		}

		runForeground(runCtx, p.logger, p.configPath, f)
	}()

	return nil
}

// Stop implements the [service.Interface] interface for *program,
// canceling the run context and waiting for cleanup exactly as the
// teacher's own Stop waits on its done channel after signaling.
func (p *program) Stop(_ service.Service) (err error) {
	p.logger.InfoContext(p.ctx, "stopping: waiting for cleanup")

	if p.cancel != nil {
		p.cancel()
	}

	if p.done != nil {
		<-p.done
	}

	return nil
}
