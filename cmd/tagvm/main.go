// tagvm CLI - boots the runtime and runs the built-in demo programs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/tagvm/config"
	"github.com/chazu/tagvm/imagestore"
	"github.com/chazu/tagvm/vm"
	"github.com/chazu/tagvm/vm/image"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("tagvm")

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest tagvm.toml)")
	verbose := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	trace := flag.Bool("trace", false, "Log every executed instruction")
	demo := flag.String("demo", "all", "Demo to run: "+demoNames()+", or all")
	imageOut := flag.String("image", "", "Write a snapshot of the runtime to this file after the demos")
	store := flag.Bool("store", false, "Also save the snapshot in the configured image store")
	dump := flag.Bool("dump", false, "Print the object table after the demos")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tagvm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Boots a fresh runtime and runs demo programs against it.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tagvm -demo factorial        # 20! through a tail-recursive closure\n")
		fmt.Fprintf(os.Stderr, "  tagvm -image boot.tvmi       # Run all demos, then snapshot\n")
		fmt.Fprintf(os.Stderr, "  tagvm -trace -v 2 -demo add  # Trace every instruction\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	verbosity := cfg.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	commonlog.Configure(verbosity, cfg.LogFile())

	opts := cfg.RuntimeOptions()
	opts.Trace = opts.Trace || *trace
	opts.Output = os.Stdout
	rt, err := vm.New(opts)
	if err != nil {
		log.Errorf("boot: %v", err)
		os.Exit(1)
	}

	if err := runDemos(rt, *demo); err != nil {
		log.Errorf("demo %s: %v", *demo, err)
		os.Exit(1)
	}

	if *dump {
		rt.DumpTable(os.Stdout)
	}

	out := *imageOut
	if out == "" {
		out = cfg.Image.Output
	}
	if out != "" {
		if err := image.Save(out, rt); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		log.Infof("wrote image %s", out)
	}
	if *store {
		if err := saveToStore(cfg, rt); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func saveToStore(cfg *config.Config, rt *vm.Runtime) error {
	if cfg.Image.Store == "" {
		return fmt.Errorf("no [image] store configured")
	}
	ctx := context.Background()
	s, err := imagestore.Open(ctx, cfg.Image.Store)
	if err != nil {
		return err
	}
	defer s.Close()
	id, err := s.Put(ctx, cfg.Image.Name, rt.Snapshot())
	if err != nil {
		return err
	}
	fmt.Printf("stored image %s as %q\n", id, cfg.Image.Name)
	return nil
}
