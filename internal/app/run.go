// Package app wires the simulation files to the protocol fronts and
// owns startup and shutdown.
package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/tturner/ecusim/internal/config"
	"github.com/tturner/ecusim/internal/doip"
	"github.com/tturner/ecusim/internal/ecu"
	uerrors "github.com/tturner/ecusim/internal/errors"
	"github.com/tturner/ecusim/internal/j1939"
	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/monitor"
	"github.com/tturner/ecusim/internal/sim"
	"github.com/tturner/ecusim/internal/uds"
)

// ErrInterrupted reports shutdown by SIGINT, mapped to exit code 1.
var ErrInterrupted = errors.New("interrupted")

// Options configure a simulator run.
type Options struct {
	SimsDir     string
	Device      string // CAN device name; empty disables CAN, DoIP only
	LogLevel    string
	LogFile     string
	MonitorAddr string // empty disables the monitor
}

// runtime tracks everything Run started, for shutdown.
type runtime struct {
	logger    *logging.Logger
	receivers []*uds.Receiver
	j1939s    []*j1939.Dispatcher
	doip      *doip.Server
	hub       *monitor.Hub
	models    []*ecu.Model
}

// Run starts every simulated ECU found in the sims directory and
// blocks until SIGINT or SIGTERM. ECUs whose simulation file fails to
// load are skipped; the remainder run.
func Run(opts Options) error {
	logger, err := logging.NewLogger(logging.ParseLevel(opts.LogLevel), opts.LogFile)
	if err != nil {
		return err
	}
	defer logger.Close()

	files, err := simFiles(opts.SimsDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no simulation files in %s", opts.SimsDir)
	}

	rt := &runtime{logger: logger}
	defer rt.shutdown()

	if opts.MonitorAddr != "" {
		rt.hub = monitor.NewHub(logger)
		if err := rt.hub.Start(opts.MonitorAddr); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	}

	funcs := sim.NewFuncTable()
	doipDispatcher := doip.NewDispatcher(logger)
	var doipCfg *config.Doip

	for _, path := range files {
		file, err := sim.Load(path, funcs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", uerrors.WrapSimError(err, path))
			continue
		}

		if file.Has(config.MainIdent) && doipCfg == nil {
			cfg, err := config.DoipFromSim(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", uerrors.WrapSimError(err, path))
			} else {
				doipCfg = cfg
			}
		}

		for _, ident := range file.Idents() {
			if ident == config.MainIdent {
				continue
			}
			model, err := ecu.NewModel(file.Bind(ident), logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", uerrors.WrapSimError(err, path))
				continue
			}
			rt.models = append(rt.models, model)
		}
	}

	if doipCfg != nil {
		rt.doip = doip.NewServer(doipCfg, doipDispatcher, logger)
	}

	for _, model := range rt.models {
		if err := rt.startECU(model, opts.Device, doipDispatcher); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", model.Ident(), err)
		}
	}

	if rt.hub != nil {
		doipDispatcher.OnDispatch = rt.hub.Sink("DoIP")
	}

	if rt.doip != nil {
		if err := rt.doip.Start(); err != nil {
			return uerrors.WrapDoipError(err)
		}
	}

	logger.LogStartup(opts.SimsDir, opts.Device, len(rt.models))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.Info("Received %v, shutting down", sig)

	if sig == syscall.SIGINT {
		return ErrInterrupted
	}
	return nil
}

// startECU opens the fronts an ECU is configured for.
func (rt *runtime) startECU(model *ecu.Model, device string, doipDispatcher *doip.Dispatcher) error {
	env := model.Script().Env()
	var rawSenders []func([]byte)

	if device != "" && model.HasUDS() {
		conn, err := uds.DialISOTP(device, model.RequestID(), model.ResponseID())
		if err != nil {
			return uerrors.WrapSocketError(err, device)
		}
		dispatcher := uds.NewDispatcher(model, conn, rt.logger)
		if rt.hub != nil {
			dispatcher.OnDispatch = rt.hub.Sink("UDS")
		}
		receiver := uds.NewReceiver(conn, dispatcher, rt.logger)
		rt.receivers = append(rt.receivers, receiver)
		go receiver.Run()

		// Functional requests arrive on the broadcast id and answer
		// through the same dispatcher.
		bconn, err := uds.DialISOTP(device, model.BroadcastID(), model.ResponseID())
		if err != nil {
			rt.logger.Error("%s: broadcast receiver: %v", model.Ident(), err)
		} else {
			breceiver := uds.NewReceiver(bconn, dispatcher, rt.logger)
			rt.receivers = append(rt.receivers, breceiver)
			go breceiver.Run()
		}

		rawSenders = append(rawSenders, func(b []byte) {
			if err := conn.Send(b); err != nil {
				rt.logger.Error("%s: sendRaw: %v", model.Ident(), err)
			}
		})
	}

	if device != "" && model.HasJ1939() {
		link := &j1939.CANLink{Device: device, Source: model.J1939Source()}
		bus, err := link.Open()
		if err != nil {
			return uerrors.WrapSocketError(err, device)
		}
		dispatcher := j1939.NewDispatcher(model, bus, link, rt.logger)
		if rt.hub != nil {
			dispatcher.OnDispatch = rt.hub.Sink("J1939")
		}
		rt.j1939s = append(rt.j1939s, dispatcher)
		go dispatcher.Run()
		dispatcher.StartPeriodicSenders()
	}

	if model.HasDoip() {
		doipDispatcher.AddECU(model)
		if rt.doip != nil {
			env.BindDoip(rt.doip)
			addr := model.DoipAddress()
			server := rt.doip
			rawSenders = append(rawSenders, func(b []byte) {
				server.SendDiagnosticResponse(addr, b)
			})
		}
	}

	if len(rawSenders) > 0 {
		senders := rawSenders
		env.BindRawSender(func(b []byte) {
			for _, send := range senders {
				send(b)
			}
		})
	}

	return nil
}

// shutdown unwinds all fronts and waits for the periodic senders to
// observe the cancellation flag.
func (rt *runtime) shutdown() {
	for _, r := range rt.receivers {
		r.Stop()
	}
	for _, d := range rt.j1939s {
		d.Stop()
	}
	if rt.doip != nil {
		rt.doip.Stop()
	}
	if rt.hub != nil {
		rt.hub.Stop()
	}
	for _, m := range rt.models {
		m.Session.Stop()
	}
}

// simFiles lists the simulation files of a directory, sorted by name.
func simFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read simulation directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Validate loads every simulation file in dir and reports per-file
// problems without starting any front. It backs the validate-sim
// subcommand.
func Validate(dir string, logger *logging.Logger) error {
	files, err := simFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no simulation files in %s", dir)
	}

	funcs := sim.NewFuncTable()
	var failed int
	for _, path := range files {
		file, err := sim.Load(path, funcs)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%v\n", uerrors.WrapSimError(err, path))
			continue
		}
		for _, ident := range file.Idents() {
			if ident == config.MainIdent {
				continue
			}
			if _, err := ecu.NewModel(file.Bind(ident), logger); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%v\n", uerrors.WrapSimError(err, path))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d simulation table(s) failed to load", failed)
	}
	return nil
}
