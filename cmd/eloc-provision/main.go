package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/ruteri/eloc-provisioning/audit"
	"github.com/ruteri/eloc-provisioning/cmd/flags"
	"github.com/ruteri/eloc-provisioning/config"
	"github.com/ruteri/eloc-provisioning/cryptoutils"
	"github.com/ruteri/eloc-provisioning/httpserver"
	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/ruteri/eloc-provisioning/ports"
	"github.com/ruteri/eloc-provisioning/provisioning"
	"github.com/ruteri/eloc-provisioning/storage"
	"github.com/ruteri/eloc-provisioning/toolchain"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
)

var flagSkipBuild = &cli.BoolFlag{
	Name:  "skip-build",
	Usage: "do not run the PlatformIO build, flash the existing firmware image",
}
var flagSkipFlash = &cli.BoolFlag{
	Name:  "skip-flash",
	Usage: "provision and build only, do not touch the device",
}
var flagImage = &cli.StringFlag{
	Name:  "image",
	Usage: "NVS image to flash. Defaults to nvs.image from the configuration",
}
var flagShowKeys = &cli.BoolFlag{
	Name:  "show-keys",
	Usage: "print full appKey and nwkKey values instead of fingerprints",
}
var flagArchiveTo = &cli.StringSliceFlag{
	Name:  "to",
	Usage: "archive location URI (file:///dir, s3://bucket/prefix?region=..., vault://host:8200/mount/path). Defaults to the configured archive list",
}
var flagArchiveFrom = &cli.StringFlag{
	Name:     "from",
	Required: true,
	Usage:    "archive location URI to restore from",
}
var flagArchiveID = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "content id printed by 'audit archive'",
}
var flagSealTo = &cli.StringFlag{
	Name:  "seal-to",
	Usage: "PEM public key to encrypt the archive to. Defaults to archive_public_key from the configuration",
}
var flagOpenWith = &cli.StringFlag{
	Name:  "open-with",
	Usage: "PEM private key to decrypt a sealed archive with",
}
var flagKeyDir = &cli.StringFlag{
	Name:  "dir",
	Value: ".",
	Usage: "directory to write archive.pub and archive.key to",
}
var flagOut = &cli.StringFlag{
	Name:     "out",
	Required: true,
	Usage:    "file to write the restored audit log to",
}

var deviceFlags = []cli.Flag{
	flags.PortFlag,
	flags.BaudFlag,
}

func main() {
	app := &cli.App{
		Name:  "eloc-provision",
		Usage: "Provision ELOC devices: serial numbers, LoRaWAN join keys, firmware and NVS flashing",
		Flags: append(flags.CommonFlags, flags.LogServiceFlagFn("eloc-provision")),
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "provision the next device: new serial and keys, build, flash firmware and NVS",
				Flags: append([]cli.Flag{flags.EnvFlag, flags.KeyPolicyFlag, flagSkipBuild, flagSkipFlash}, deviceFlags...),
				Action: func(cCtx *cli.Context) error {
					return runProvision(cCtx)
				},
			},
			{
				Name:  "increment",
				Usage: "run the provisioning transaction only and print the new serial",
				Flags: []cli.Flag{flags.KeyPolicyFlag},
				Action: func(cCtx *cli.Context) error {
					return runIncrement(cCtx)
				},
			},
			{
				Name:  "flash-nvs",
				Usage: "flash an existing NVS image",
				Flags: append([]cli.Flag{flagImage}, deviceFlags...),
				Action: func(cCtx *cli.Context) error {
					return runFlashNVS(cCtx)
				},
			},
			{
				Name:  "flash-factory",
				Usage: "generate the NVS image sized from the partition table and flash it at the nvs partition",
				Flags: deviceFlags,
				Action: func(cCtx *cli.Context) error {
					return runFlashFactory(cCtx)
				},
			},
			{
				Name:  "ports",
				Usage: "list serial ports",
				Action: func(cCtx *cli.Context) error {
					return runPorts(cCtx)
				},
			},
			{
				Name:  "serve",
				Usage: "serve the read-only station status API",
				Flags: flags.ServerFlags,
				Action: func(cCtx *cli.Context) error {
					return runServe(cCtx)
				},
			},
			{
				Name:  "audit",
				Usage: "inspect and archive the provisioning log",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "print the provisioning log",
						Flags: []cli.Flag{flagShowKeys},
						Action: func(cCtx *cli.Context) error {
							return runAuditList(cCtx)
						},
					},
					{
						Name:  "archive",
						Usage: "copy the provisioning log to archive backends",
						Flags: []cli.Flag{flagArchiveTo, flagSealTo},
						Action: func(cCtx *cli.Context) error {
							return runAuditArchive(cCtx)
						},
					},
					{
						Name:  "restore",
						Usage: "fetch an archived provisioning log",
						Flags: []cli.Flag{flagArchiveFrom, flagArchiveID, flagOpenWith, flagOut},
						Action: func(cCtx *cli.Context) error {
							return runAuditRestore(cCtx)
						},
					},
					{
						Name:  "keygen",
						Usage: "generate a P-256 key pair for sealed archives",
						Flags: []cli.Flag{flagKeyDir},
						Action: func(cCtx *cli.Context) error {
							return runAuditKeygen(cCtx)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// operatorEnv holds what every command needs: configuration, logger and the record
// and audit stores.
type operatorEnv struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.FileRecordStore
	audit *audit.CSVLog
}

func setup(cCtx *cli.Context) (*operatorEnv, error) {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &operatorEnv{
		cfg:   cfg,
		log:   logger,
		store: storage.NewFileRecordStore(cfg.RecordFile, logger),
		audit: audit.NewCSVLog(cfg.AuditFile, logger, audit.WithLocation(loc)),
	}, nil
}

func (s *operatorEnv) service() (*provisioning.Service, error) {
	pc, err := s.cfg.ProvisioningConfig()
	if err != nil {
		return nil, err
	}
	return provisioning.NewService(s.store, s.audit, pc, s.log)
}

func (s *operatorEnv) selectPort(ctx context.Context) (string, error) {
	port, err := ports.Select(ctx, s.cfg.Port, ports.NewSerialDiscoverer(s.log), ports.StdioPrompt())
	if err != nil {
		s.log.Error("No serial port to flash through", "err", err)
		return "", err
	}
	s.log.Info("Using serial port", "port", port)
	return port, nil
}

func (s *operatorEnv) flasher() *toolchain.EsptoolFlasher {
	return toolchain.NewEsptoolFlasher(toolchain.NewExecRunner(os.Stdout, s.log), s.cfg.Tools.Python, s.cfg.Chip, s.log)
}

func (s *operatorEnv) nvsGenerator() *toolchain.NVSGenerator {
	return toolchain.NewNVSGenerator(toolchain.NewExecRunner(os.Stdout, s.log), s.cfg.Tools.Python, s.cfg.Tools.NVSTool, s.log)
}

// report prints the outcome of a transaction. When the record committed without
// its audit row, the missing row is printed for manual reconciliation.
func (s *operatorEnv) report(entry *interfaces.AuditEntry, err error) error {
	if entry != nil {
		fmt.Printf("Serial Number: %s\n", entry.Serial)
		fmt.Printf("Hardware Version: %s\n", entry.HWGen)
		fmt.Printf("Revision: %s\n", entry.HWRev)
		fmt.Printf("devEUI: %s\n", entry.DevEUI)
	}
	if err == nil {
		return nil
	}

	var commitErr *interfaces.AuditAppendFailedAfterCommitError
	if errors.As(err, &commitErr) {
		fmt.Fprintf(os.Stderr, "Record committed but the audit log was not written. Append this row to %s:\n", commitErr.AuditPath)
		w := csv.NewWriter(os.Stderr)
		w.Write(s.audit.Row(commitErr.Entry))
		w.Flush()
	}
	s.log.Error("Provisioning failed", "err", err)
	return err
}

func runProvision(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}
	svc, err := s.service()
	if err != nil {
		return err
	}

	guard, stop := trapInterrupt(cCtx.Context, s.log)
	defer stop()
	ctx := guard.ctx

	// Resolve the port first so a missing device does not consume a serial
	var port string
	if !cCtx.Bool(flagSkipFlash.Name) {
		if port, err = s.selectPort(ctx); err != nil {
			return err
		}
	}

	runner := toolchain.NewExecRunner(os.Stdout, s.log)
	st := provisioning.NewStation(
		svc,
		toolchain.NewPlatformIOBuilder(runner, s.cfg.Tools.PlatformIO, s.cfg.ProjectDir, s.log),
		s.nvsGenerator(),
		s.flasher(),
		provisioning.StationConfig{
			Environment:    s.cfg.Environment,
			FirmwareImage:  toolchain.FirmwarePath(s.cfg.ProjectDir, s.cfg.Environment),
			FirmwareOffset: s.cfg.FirmwareOffset,
			Baud:           s.cfg.Baud,
			RecordPath:     s.cfg.RecordFile,
			NVSImage:       s.cfg.NVS.Image,
			NVSOffset:      s.cfg.NVS.Offset,
			NVSSize:        s.cfg.NVS.Size,
			OperatorPause:  s.cfg.OperatorPause,
			SkipBuild:      cCtx.Bool(flagSkipBuild.Name),
			SkipFlash:      cCtx.Bool(flagSkipFlash.Name),
		},
		guard.interrupted,
		s.log,
	)
	st.Notice = func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	}

	if err := guard.Commit(); err != nil {
		return s.report(nil, err)
	}
	return s.report(st.Run(ctx, port))
}

func runIncrement(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}
	svc, err := s.service()
	if err != nil {
		return err
	}

	guard, stop := trapInterrupt(cCtx.Context, s.log)
	defer stop()
	if err := guard.Commit(); err != nil {
		return s.report(nil, err)
	}

	// A started transaction always completes; signals only cancel what follows it.
	return s.report(svc.ProvisionOnce(context.WithoutCancel(guard.ctx), time.Now()))
}

func runFlashNVS(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	image := s.cfg.NVS.Image
	if cCtx.IsSet(flagImage.Name) {
		image = cCtx.String(flagImage.Name)
	}

	guard, stop := trapInterrupt(cCtx.Context, s.log)
	defer stop()
	ctx := guard.ctx

	port, err := s.selectPort(ctx)
	if err != nil {
		return err
	}

	err = s.flasher().Flash(ctx, interfaces.FlashRequest{
		Image:  image,
		Offset: s.cfg.NVS.Offset,
		Port:   port,
	})
	if err != nil {
		s.log.Error("Failed to flash NVS image", "err", err)
	}
	return err
}

func runFlashFactory(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	table, err := toolchain.LoadPartitionTable(s.cfg.PartitionTable)
	if err != nil {
		s.log.Error("Failed to load partition table", "err", err)
		return err
	}
	nvs, err := table.Lookup("nvs")
	if err != nil {
		s.log.Error("Partition table has no NVS partition", "err", err)
		return err
	}
	s.log.Info("NVS partition", "offset", fmt.Sprintf("0x%x", nvs.Offset), "size", fmt.Sprintf("0x%x", nvs.Size))

	guard, stop := trapInterrupt(cCtx.Context, s.log)
	defer stop()
	ctx := guard.ctx

	port, err := s.selectPort(ctx)
	if err != nil {
		return err
	}

	if err := s.nvsGenerator().Generate(ctx, s.cfg.RecordFile, s.cfg.NVS.Image, nvs.Size); err != nil {
		s.log.Error("Failed to generate NVS image", "err", err)
		return err
	}

	err = s.flasher().Flash(ctx, interfaces.FlashRequest{
		Image:  s.cfg.NVS.Image,
		Offset: nvs.Offset,
		Port:   port,
	})
	if err != nil {
		s.log.Error("Failed to flash NVS image", "err", err)
	}
	return err
}

func runPorts(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	found, err := ports.NewSerialDiscoverer(logger).Ports(cCtx.Context)
	if err != nil {
		logger.Error("Failed to list serial ports", "err", err)
		return err
	}
	if len(found) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range found {
		fmt.Println(ports.Describe(p))
	}
	return nil
}

func runAuditList(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	entries, err := s.audit.ReadAll(cCtx.Context)
	if err != nil {
		s.log.Error("Failed to read audit log", "err", err)
		return err
	}

	showKeys := cCtx.Bool(flagShowKeys.Name)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(audit.Header)
	table.SetAutoFormatHeaders(false)
	for _, e := range entries {
		row := s.audit.Row(e)
		if !showKeys {
			row[2] = maskKey(e.AppKey)
			row[3] = maskKey(e.NwkKey)
		}
		table.Append(row)
	}
	table.Render()

	fmt.Printf("%d entries in %s\n", len(entries), s.audit.Path())
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	return "fp:" + cryptoutils.Fingerprint(key)
}

func runAuditArchive(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	uris := s.cfg.Archive
	if cCtx.IsSet(flagArchiveTo.Name) {
		uris = cCtx.StringSlice(flagArchiveTo.Name)
	}
	if len(uris) == 0 {
		return errors.New("no archive location given, use --to or the archive configuration list")
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, u := range uris {
		locations = append(locations, interfaces.StorageBackendLocation(u))
	}

	backend, err := storage.NewStorageBackendFactory(s.log).CreateMultiBackend(locations)
	if err != nil {
		s.log.Error("Failed to create archive backends", "err", err)
		return err
	}

	data, err := os.ReadFile(s.audit.Path())
	if err != nil {
		s.log.Error("Failed to read audit log", "err", err)
		return err
	}

	sealTo := s.cfg.ArchivePublicKey
	if cCtx.IsSet(flagSealTo.Name) {
		sealTo = cCtx.String(flagSealTo.Name)
	}
	if sealTo != "" {
		publicKey, err := os.ReadFile(sealTo)
		if err != nil {
			return fmt.Errorf("could not read archive public key: %w", err)
		}
		if data, err = cryptoutils.Seal(publicKey, data); err != nil {
			return fmt.Errorf("could not seal audit log: %w", err)
		}
	}

	id, err := backend.Store(cCtx.Context, data)
	if err != nil {
		s.log.Error("Failed to archive audit log", "err", err)
		return err
	}

	s.log.Info("Archived audit log", "id", id.String(), "backends", backend.LocationURI(), "sealed", sealTo != "")
	fmt.Println(id.String())
	return nil
}

func runAuditRestore(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	id, err := interfaces.NewContentIDFromHex(cCtx.String(flagArchiveID.Name))
	if err != nil {
		return fmt.Errorf("invalid content id: %w", err)
	}

	backend, err := storage.NewStorageBackendFactory(logger).StorageBackendFor(
		interfaces.StorageBackendLocation(cCtx.String(flagArchiveFrom.Name)))
	if err != nil {
		return err
	}

	data, err := backend.Fetch(cCtx.Context, id)
	if err != nil {
		logger.Error("Failed to fetch archived audit log", "err", err)
		return err
	}

	if keyPath := cCtx.String(flagOpenWith.Name); keyPath != "" {
		privateKey, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("could not read archive private key: %w", err)
		}
		if data, err = cryptoutils.Open(privateKey, data); err != nil {
			return fmt.Errorf("could not open sealed archive: %w", err)
		}
	}

	out := cCtx.String(flagOut.Name)
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", out)
	}
	return os.WriteFile(out, data, 0600)
}

func runAuditKeygen(cCtx *cli.Context) error {
	dir := cCtx.String(flagKeyDir.Name)
	pubPath := filepath.Join(dir, "archive.pub")
	keyPath := filepath.Join(dir, "archive.key")
	for _, p := range []string{pubPath, keyPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", p)
		}
	}

	publicKey, privateKey, err := cryptoutils.GenerateSealKeypair()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, privateKey, 0600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, publicKey, 0644); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s, keep the private key off the station\n", pubPath, keyPath)
	return nil
}

func runServe(cCtx *cli.Context) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	handler := httpserver.NewHandler(s.store, s.audit, s.cfg.FieldNames, s.log)
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, s.log), handler)
	if err != nil {
		s.log.Error("Failed to create server", "err", err)
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	srv.RunInBackground()
	<-exit

	srv.Shutdown()
	return nil
}

// interruptGuard maps SIGINT/SIGTERM onto a run. Until Commit the first signal
// cancels the context. After Commit the first signal sets the interrupted flag,
// which the station honours at the next step boundary, and a second one cancels
// the context to stop a running tool.
type interruptGuard struct {
	ctx         context.Context
	cancel      context.CancelFunc
	interrupted *atomic.Bool
	log         *slog.Logger

	mu        sync.Mutex
	committed bool
}

func newInterruptGuard(parent context.Context, log *slog.Logger) *interruptGuard {
	ctx, cancel := context.WithCancel(parent)
	return &interruptGuard{
		ctx:         ctx,
		cancel:      cancel,
		interrupted: atomic.NewBool(false),
		log:         log,
	}
}

// Commit marks the start of the serial transaction. It fails if the run was
// interrupted before.
func (g *interruptGuard) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ctx.Err(); err != nil {
		return fmt.Errorf("%w before provisioning started: %v", interfaces.ErrInterrupted, err)
	}
	g.committed = true
	return nil
}

func (g *interruptGuard) notify() {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.committed:
		g.log.Warn("Interrupt received, aborting")
		g.cancel()
	case g.interrupted.CompareAndSwap(false, true):
		g.log.Warn("Interrupt received, stopping after the current step. Interrupt again to abort it")
	default:
		g.log.Warn("Second interrupt received, aborting the running tool")
		g.cancel()
	}
}

// trapInterrupt feeds process signals to a new guard until stop is called.
func trapInterrupt(parent context.Context, log *slog.Logger) (*interruptGuard, func()) {
	g := newInterruptGuard(parent, log)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigs:
				g.notify()
			case <-done:
				return
			}
		}
	}()

	return g, func() {
		signal.Stop(sigs)
		close(done)
		g.cancel()
	}
}
