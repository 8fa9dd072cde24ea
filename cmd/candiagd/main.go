// Command candiagd wires config, transport, dataset loading, and the
// diagnostic service façade behind the JSONL IPC server (and, optionally,
// the read-only HTTP/WS gateway). candiag has no first-party UI, only the
// protocol surfaces other programs drive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"candiag/addr"
	"candiag/backup"
	"candiag/brands"
	"candiag/canbus"
	"candiag/config"
	"candiag/datasets"
	"candiag/did"
	"candiag/gateway"
	"candiag/ipc"
	"candiag/service"
	"candiag/transport/mock"
	"candiag/transport/serialcan"
)

func main() {
	var (
		envFile      = flag.String("env-file", ".env", "optional .env file to load before resolving configuration")
		socketPath   = flag.String("socket", "", "unix socket path for the IPC server (default: <cache-dir>/candiagd.sock)")
		serialPort   = flag.String("serial-port", "", "serial device for the CAN adapter (empty: auto-discover; 'mock' for an in-memory loopback transport)")
		addrMode     = flag.String("addr-mode", string(addr.Mode11Bit), "CAN addressing mode: 11bit or 29bit")
		gatewayAddr  = flag.String("gateway-addr", "", "optional HTTP/WS gateway listen address, e.g. :8080 (empty disables it)")
		unsafePwFile = flag.String("unsafe-password-file", "", "path to the hashed unsafe-mode password file (default: <cache-dir>/unsafe_password.json)")
	)
	flag.Parse()

	if err := run(*envFile, *socketPath, *serialPort, *addrMode, *gatewayAddr, *unsafePwFile); err != nil {
		log.WithError(err).Fatal("candiagd exiting")
	}
}

func run(envFile, socketPath, serialPort, addrModeFlag, gatewayAddr, unsafePwFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	dirs := config.Resolve(config.Params{})
	if err := config.EnsureDirs(dirs); err != nil {
		return fmt.Errorf("preparing directories: %w", err)
	}
	brand := config.ResolveBrand(config.Params{})

	if socketPath == "" {
		socketPath = filepath.Join(dirs.CacheDir, "candiagd.sock")
	}
	if unsafePwFile == "" {
		unsafePwFile = filepath.Join(dirs.CacheDir, "unsafe_password.json")
	}

	mode := addr.Mode(addrModeFlag)
	if mode != addr.Mode11Bit && mode != addr.Mode29Bit {
		return fmt.Errorf("unrecognized addr-mode %q", addrModeFlag)
	}

	transport, err := openTransport(serialPort)
	if err != nil {
		return fmt.Errorf("opening CAN transport: %w", err)
	}
	defer transport.Close()

	store, err := backup.NewStore(dirs.BackupsDir())
	if err != nil {
		return fmt.Errorf("opening backup store: %w", err)
	}

	svc := service.New(
		transport,
		"candiagd",
		mode,
		did.DefaultRegistry(),
		brands.NewRegistry(nil),
		store,
		datasets.NewLoader(dirs.DataDir),
		brand,
		unsafePwFile,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info("received shutdown signal, stopping candiagd")
		cancel()
	}()

	if gatewayAddr != "" {
		gw := gateway.New(svc, gatewayAddr)
		go func() {
			if err := gw.ListenAndServe(); err != nil {
				log.WithError(err).Error("gateway server stopped")
			}
		}()
	}

	ipcServer := ipc.NewServer(socketPath, svc)
	log.WithField("socket", socketPath).WithField("brand", brand).Info("candiagd ready")
	return ipcServer.Serve(ctx)
}

func openTransport(serialPort string) (canbus.Transport, error) {
	if serialPort == "mock" {
		a, _ := mock.NewPair()
		return a, nil
	}
	if serialPort == "" {
		return serialcan.Open(0)
	}
	return serialcan.OpenPort(serialPort, 0)
}
