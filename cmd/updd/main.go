// Command updd boots one isolated machine: it registers every built-in
// driver, loads the working directory's upd.yml manifest (original_source's
// main.c "build isolated machine, load config, run" sequence), and runs the
// machine's event loop until it is interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reactorfs/upd/config"
	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/drivers/audio"
	"github.com/reactorfs/upd/drivers/dir"
	"github.com/reactorfs/upd/drivers/doc"
	"github.com/reactorfs/upd/drivers/gl3"
	"github.com/reactorfs/upd/drivers/httpbridge"
	"github.com/reactorfs/upd/drivers/png"
	"github.com/reactorfs/upd/drivers/script"
	"github.com/reactorfs/upd/drivers/stream"
	"github.com/reactorfs/upd/drivers/tensor"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
	"github.com/reactorfs/upd/lock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		workDir  = flag.String("C", ".", "working directory holding upd.yml")
		addr     = flag.String("http", "127.0.0.1:0", "listen address for the httpbridge driver")
		logLevel = flag.String("log-level", "info", "minimum log level: debug, info, warn, error")
		quiet    = flag.Bool("quiet", false, "suppress the banner")
	)
	flag.Parse()

	if !*quiet {
		fmt.Println(banner)
	}

	logger := iso.NewDefaultLogger(parseLevel(*logLevel))
	m := iso.NewMachine(iso.WithLogger(logger))

	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, m.Loop)
	table := driver.NewTable(func(format string, args ...any) { m.Log(iso.LevelWarn, fmt.Sprintf(format, args...), nil) })
	host := driver.NewHost(m, registry, manager, table)

	dirDriver := dir.New(registry)
	if err := registerDrivers(table, host, dirDriver, *addr); err != nil {
		return fmt.Errorf("driver registration: %w", err)
	}

	root, err := registry.New(dirDriver)
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}

	m.Log(iso.LevelInfo, "building isolated machine...", nil)
	loader := &config.Loader{
		Registry:  registry,
		Manager:   manager,
		Table:     table,
		Host:      host,
		Root:      root,
		DirDriver: dirDriver,
	}
	if err := loader.Load(*workDir, config.FeatureAll); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("configuration failure: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		m.Log(iso.LevelInfo, "shutdown requested", nil)
		_ = m.Close()
	}()

	if err := m.Run(ctx); err != nil {
		return fmt.Errorf("isolated machine exited: %w", err)
	}
	m.Log(iso.LevelInfo, "isolated machine exited gracefully", nil)
	return nil
}

// registerDrivers wires every built-in driver into table, the Go analogue
// of the original's static upd_driver_register calls at startup.
func registerDrivers(table *driver.Table, host driver.Host, dirDriver *dir.Driver, httpAddr string) error {
	docDriver := doc.Driver{}
	scriptDriver := script.New(host)
	pngDriver := png.Driver{}

	drivers := []driver.Driver{
		dirDriver,
		&stream.Driver{},
		docDriver,
		scriptDriver,
		httpbridge.New(host, httpAddr),
		pngDriver,
		tensor.Driver{},
		audio.Driver{},
		gl3.New(host),
	}
	for _, d := range drivers {
		if err := table.Register(d); err != nil {
			return fmt.Errorf("registering %s: %w", d.Name(), err)
		}
	}
	table.AddRule(".yml", docDriver)
	table.AddRule(".yaml", docDriver)
	table.AddRule(".js", scriptDriver)
	table.AddRule(".png", pngDriver)
	return nil
}

func parseLevel(s string) iso.LogLevel {
	switch s {
	case "debug":
		return iso.LevelDebug
	case "warn":
		return iso.LevelWarn
	case "error":
		return iso.LevelError
	default:
		return iso.LevelInfo
	}
}

const banner = `.   ..   ..--.  .    .--.     .    .   . .--. --.--.--.
|   ||\  ||   )/ \   |   )   / \   |\  |:    :  |  |   :
|   || \ ||--'/___\  |--'   /___\  | \ ||    |  |  |   |
:   ;|  \||  /     \ |  \  /     \ |  \|:    ;  |  |   ;
 ` + "`" + `-' '   '' '       ` + "`" + `'   ` + "`" + `'       ` + "`" + `'   ' ` + "`" + `--' --'--'--'`
